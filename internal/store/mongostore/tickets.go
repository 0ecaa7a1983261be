package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"ticketflow/internal/model"
	"ticketflow/internal/store"
)

// TicketRepository stores tickets and their comments. Ticket numbers come
// from a counter document so they stay sequential across restarts.
type TicketRepository struct {
	tickets  *mongo.Collection
	comments *mongo.Collection
	counters *mongo.Collection
}

func NewTicketRepository(db *mongo.Database) *TicketRepository {
	return &TicketRepository{
		tickets:  db.Collection(ticketsCollection),
		comments: db.Collection(commentsCollection),
		counters: db.Collection(countersCollection),
	}
}

type ticketDoc struct {
	ID          string    `bson:"_id"`
	Number      string    `bson:"numero_ticket"`
	Title       string    `bson:"titulo"`
	Description string    `bson:"descripcion"`
	Status      string    `bson:"estado"`
	Priority    string    `bson:"prioridad"`
	Category    string    `bson:"categoria"`
	ClientID    string    `bson:"cliente_id"`
	AssigneeID  string    `bson:"asignado_id,omitempty"`
	CreatedAt   time.Time `bson:"creado_en"`
	UpdatedAt   time.Time `bson:"actualizado_en"`
}

func toTicketDoc(t model.Ticket) ticketDoc {
	return ticketDoc{
		ID:          t.ID,
		Number:      t.Number,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Category:    t.Category,
		ClientID:    t.ClientID,
		AssigneeID:  t.AssigneeID,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
}

func (d ticketDoc) model() model.Ticket {
	return model.Ticket{
		ID:          d.ID,
		Number:      d.Number,
		Title:       d.Title,
		Description: d.Description,
		Status:      model.TicketStatus(d.Status),
		Priority:    model.TicketPriority(d.Priority),
		Category:    d.Category,
		ClientID:    d.ClientID,
		AssigneeID:  d.AssigneeID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type commentDoc struct {
	ID        string    `bson:"_id"`
	TicketID  string    `bson:"ticket_id"`
	AuthorID  string    `bson:"usuario_id"`
	Message   string    `bson:"mensaje"`
	Internal  bool      `bson:"es_interno"`
	CreatedAt time.Time `bson:"creado_en"`
}

func (r *TicketRepository) nextTicketSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": ticketsCollection},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("ticket sequence: %w", err)
	}
	return counter.Seq, nil
}

func (r *TicketRepository) CreateTicket(ctx context.Context, t model.Ticket) (model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	seq, err := r.nextTicketSeq(ctx)
	if err != nil {
		return model.Ticket{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Number = store.TicketNumber(seq)
	if _, err := r.tickets.InsertOne(ctx, toTicketDoc(t)); err != nil {
		return model.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

func (r *TicketRepository) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc ticketDoc
	if err := r.tickets.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Ticket{}, fmt.Errorf("ticket %q: %w", id, model.ErrNotFound)
		}
		return model.Ticket{}, fmt.Errorf("find ticket: %w", err)
	}
	return doc.model(), nil
}

func ticketFilterDoc(f model.TicketFilter) bson.M {
	filter := bson.M{}
	if f.ClientID != "" {
		filter["cliente_id"] = f.ClientID
	}
	if f.AssigneeID != "" {
		filter["asignado_id"] = f.AssigneeID
	}
	if f.Status != "" {
		filter["estado"] = string(f.Status)
	}
	if f.Priority != "" {
		filter["prioridad"] = string(f.Priority)
	}
	if f.Category != "" {
		filter["categoria"] = bson.M{"$regex": "^" + regexp.QuoteMeta(f.Category) + "$", "$options": "i"}
	}
	if f.Search != "" {
		term := bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"titulo": term},
			bson.M{"descripcion": term},
			bson.M{"numero_ticket": term},
		}
	}
	return filter
}

func (r *TicketRepository) ListTickets(ctx context.Context, f model.TicketFilter) ([]model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.tickets.Find(ctx, ticketFilterDoc(f), options.Find().SetSort(bson.D{{Key: "creado_en", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer cur.Close(ctx)

	var docs []ticketDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode tickets: %w", err)
	}
	out := make([]model.Ticket, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (r *TicketRepository) UpdateTicket(ctx context.Context, t model.Ticket) (model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.GetTicket(ctx, t.ID)
	if err != nil {
		return model.Ticket{}, err
	}
	t.Number = cur.Number
	res, err := r.tickets.ReplaceOne(ctx, bson.M{"_id": t.ID}, toTicketDoc(t))
	if err != nil {
		return model.Ticket{}, fmt.Errorf("update ticket: %w", err)
	}
	if res.MatchedCount == 0 {
		return model.Ticket{}, fmt.Errorf("ticket %q: %w", t.ID, model.ErrNotFound)
	}
	return t, nil
}

func (r *TicketRepository) DeleteTicket(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.tickets.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("ticket %q: %w", id, model.ErrNotFound)
	}
	if _, err := r.comments.DeleteMany(ctx, bson.M{"ticket_id": id}); err != nil {
		return fmt.Errorf("delete ticket comments: %w", err)
	}
	return nil
}

func (r *TicketRepository) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.GetTicket(ctx, c.TicketID); err != nil {
		return model.Comment{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	doc := commentDoc{
		ID:        c.ID,
		TicketID:  c.TicketID,
		AuthorID:  c.AuthorID,
		Message:   c.Message,
		Internal:  c.Internal,
		CreatedAt: c.CreatedAt.UTC(),
	}
	if _, err := r.comments.InsertOne(ctx, doc); err != nil {
		return model.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

func (r *TicketRepository) ListComments(ctx context.Context, ticketID string) ([]model.Comment, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.comments.Find(ctx, bson.M{"ticket_id": ticketID}, options.Find().SetSort(bson.D{{Key: "creado_en", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer cur.Close(ctx)

	var docs []commentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	out := make([]model.Comment, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.Comment{
			ID:        d.ID,
			TicketID:  d.TicketID,
			AuthorID:  d.AuthorID,
			Message:   d.Message,
			Internal:  d.Internal,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}
