package socketio

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// EnginePacketType is the first byte of every Engine.IO v4 frame.
type EnginePacketType byte

const (
	EngineOpen    EnginePacketType = '0'
	EngineClose   EnginePacketType = '1'
	EnginePing    EnginePacketType = '2'
	EnginePong    EnginePacketType = '3'
	EngineMessage EnginePacketType = '4'
)

// SocketPacketType is the first byte of a Socket.IO v5 packet carried in an
// Engine.IO message frame.
type SocketPacketType byte

const (
	SocketConnect      SocketPacketType = '0'
	SocketDisconnect   SocketPacketType = '1'
	SocketEvent        SocketPacketType = '2'
	SocketAck          SocketPacketType = '3'
	SocketConnectError SocketPacketType = '4'
)

var ErrEmptyPacket = errors.New("empty payload")

// Frame prefixes a Socket.IO packet with the Engine.IO message type.
func Frame(packet string) string {
	return string(EngineMessage) + packet
}

func parseOptionalNamespace(s string) (namespace string, rest string) {
	if !strings.HasPrefix(s, "/") {
		return "/", s
	}
	comma := strings.IndexByte(s, ',')
	if comma == -1 {
		return s, ""
	}
	return s[:comma], s[comma+1:]
}

func parseOptionalIDPrefix(s string) (id *int, rest string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		i++
	}
	if i == 0 {
		return nil, s
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil {
		return nil, s
	}
	return &v, s[i:]
}

func writeNamespace(b *strings.Builder, namespace string) {
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
}

// ConnectPacket covers CONNECT (client auth or server {sid}) and
// CONNECT_ERROR ({message}).
type ConnectPacket struct {
	Type      SocketPacketType
	Namespace string
	Data      json.RawMessage
}

func ParseConnectPacket(payload string) (ConnectPacket, error) {
	if payload == "" {
		return ConnectPacket{}, ErrEmptyPacket
	}
	t := SocketPacketType(payload[0])
	if t != SocketConnect && t != SocketConnectError {
		return ConnectPacket{}, errors.New("not a connect packet")
	}
	ns, rest := parseOptionalNamespace(payload[1:])
	pkt := ConnectPacket{Type: t, Namespace: ns}
	if rest == "" {
		return pkt, nil
	}
	if !json.Valid([]byte(rest)) {
		return ConnectPacket{}, errors.New("invalid connect payload")
	}
	pkt.Data = json.RawMessage(rest)
	return pkt, nil
}

type EventPacket struct {
	Namespace string
	ID        *int
	Event     string
	Args      []json.RawMessage
}

func ParseEventPacket(payload string) (EventPacket, error) {
	if payload == "" {
		return EventPacket{}, ErrEmptyPacket
	}
	if payload[0] != byte(SocketEvent) {
		return EventPacket{}, errors.New("not an event packet")
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	id, rest := parseOptionalIDPrefix(rest)
	if !strings.HasPrefix(rest, "[") {
		return EventPacket{}, errors.New("invalid event payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return EventPacket{}, err
	}
	if len(arr) == 0 {
		return EventPacket{}, errors.New("missing event name")
	}
	var eventName string
	if err := json.Unmarshal(arr[0], &eventName); err != nil {
		return EventPacket{}, errors.New("invalid event name")
	}

	return EventPacket{Namespace: ns, ID: id, Event: eventName, Args: arr[1:]}, nil
}

type AckPacket struct {
	Namespace string
	ID        int
	Args      []json.RawMessage
}

func ParseAckPacket(payload string) (AckPacket, error) {
	if payload == "" {
		return AckPacket{}, ErrEmptyPacket
	}
	if payload[0] != byte(SocketAck) {
		return AckPacket{}, errors.New("not an ack packet")
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	id, rest := parseOptionalIDPrefix(rest)
	if id == nil {
		return AckPacket{}, errors.New("missing ack id")
	}
	if !strings.HasPrefix(rest, "[") {
		return AckPacket{}, errors.New("invalid ack payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return AckPacket{}, err
	}
	return AckPacket{Namespace: ns, ID: *id, Args: arr}, nil
}

func BuildEventPacket(namespace string, id *int, event string, args ...any) (string, error) {
	arr := make([]any, 0, 1+len(args))
	arr = append(arr, event)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(SocketEvent))
	writeNamespace(&b, namespace)
	if id != nil {
		b.WriteString(strconv.Itoa(*id))
	}
	b.Write(data)
	return b.String(), nil
}

// BuildConnectPacket encodes data (nil for none) after the CONNECT type.
func BuildConnectPacket(namespace string, data any) (string, error) {
	var b strings.Builder
	b.WriteByte(byte(SocketConnect))
	writeNamespace(&b, namespace)
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		b.Write(raw)
	}
	return b.String(), nil
}

func BuildConnectErrorPacket(namespace string, message string) (string, error) {
	raw, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte(byte(SocketConnectError))
	writeNamespace(&b, namespace)
	b.Write(raw)
	return b.String(), nil
}

func BuildAckPacket(namespace string, id int, args ...any) (string, error) {
	if args == nil {
		args = make([]any, 0)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(SocketAck))
	writeNamespace(&b, namespace)
	b.WriteString(strconv.Itoa(id))
	b.Write(data)
	return b.String(), nil
}
