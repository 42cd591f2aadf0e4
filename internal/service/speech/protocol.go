package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山语音 v3 二进制帧：4 字节 header，随后按 flags 依次出现
// sequence、event 元数据、错误码，最后是带长度前缀的 payload。

// ProtocolVersion 协议版本
const ProtocolVersion = 0b0001

// MessageType header 第二字节高 4 位
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags header 第二字节低 4 位。低两位描述 sequence，WithEvent 表示携带事件。
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceFlagMask MessageFlags = 0b0011
)

// EventType 事件号
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// SerializationMethod header 第三字节高 4 位
type SerializationMethod uint8

const (
	NoSerialization     SerializationMethod = 0b0000
	JSONSerialization   SerializationMethod = 0b0001
	CustomSerialization SerializationMethod = 0b1111
)

// CompressionMethod header 第三字节低 4 位
type CompressionMethod uint8

const (
	NoCompression     CompressionMethod = 0b0000
	GzipCompression   CompressionMethod = 0b0001
	CustomCompression CompressionMethod = 0b1111
)

// Header 帧头。HeaderSize 以 4 字节为单位。
type Header struct {
	ProtocolVersion     uint8
	HeaderSize          uint8
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	Reserved            uint8
}

// Message 一个完整的帧。Sequence、事件字段与 ErrorCode 是否上线由 header 决定。
type Message struct {
	Header      Header
	Sequence    int32
	EventType   EventType
	SessionID   string
	ConnectID   string
	ErrorCode   uint32
	PayloadSize uint32
	Payload     []byte
}

// NewHeader 创建最短 header
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          1,
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
	}
}

func packNibbles(hi, lo uint8) byte {
	return hi<<4 | lo&0x0F
}

func unpackNibbles(b byte) (hi, lo uint8) {
	return b >> 4, b & 0x0F
}

// Encode header 的 4 字节表示
func (h *Header) Encode() []byte {
	return []byte{
		packNibbles(h.ProtocolVersion, h.HeaderSize),
		packNibbles(uint8(h.MessageType), uint8(h.MessageFlags)),
		packNibbles(uint8(h.SerializationMethod), uint8(h.CompressionMethod)),
		h.Reserved,
	}
}

// DecodeHeader 解析前 4 字节，拒绝未知版本
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("header data too short: got %d, need 4", len(data))
	}

	version, size := unpackNibbles(data[0])
	if version != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
	msgType, flags := unpackNibbles(data[1])
	serialization, compression := unpackNibbles(data[2])

	return &Header{
		ProtocolVersion:     version,
		HeaderSize:          size,
		MessageType:         MessageType(msgType),
		MessageFlags:        MessageFlags(flags),
		SerializationMethod: SerializationMethod(serialization),
		CompressionMethod:   CompressionMethod(compression),
		Reserved:            data[3],
	}, nil
}

// EncodeMessage 编码完整消息：header | [sequence] | [event, session, connect] | size | payload
func EncodeMessage(msg *Message) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 16+len(msg.Payload)))
	buf.Write(msg.Header.Encode())

	if msg.hasSequence() {
		putUint32(buf, uint32(msg.Sequence))
	}

	if msg.Header.MessageFlags&WithEvent == WithEvent {
		putUint32(buf, uint32(msg.EventType))
		if !eventSkipsSessionID(msg.EventType) {
			putSized(buf, []byte(msg.SessionID))
		}
		if eventHasConnectID(msg.EventType) {
			putSized(buf, []byte(msg.ConnectID))
		}
	}

	if msg.Header.MessageType == ErrorMessage {
		putUint32(buf, msg.ErrorCode)
	}

	if int(msg.PayloadSize) != len(msg.Payload) {
		return nil, fmt.Errorf("payload size mismatch: header says %d, got %d", msg.PayloadSize, len(msg.Payload))
	}
	putSized(buf, msg.Payload)

	return buf.Bytes(), nil
}

// DecodeMessage 解码完整消息
func DecodeMessage(reader io.Reader) (*Message, error) {
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(reader, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}

	msg := &Message{Header: *header}

	// 跳过可选的 header 扩展
	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(extra)); err != nil {
			return nil, fmt.Errorf("failed to read extended header: %w", err)
		}
	}

	if msg.hasSequence() {
		seq, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read sequence: %w", err)
		}
		msg.Sequence = int32(seq)
	}

	if header.MessageFlags&WithEvent == WithEvent {
		event, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read event type: %w", err)
		}
		msg.EventType = EventType(int32(event))

		if !eventSkipsSessionID(msg.EventType) {
			session, err := readSized(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to read session id: %w", err)
			}
			msg.SessionID = string(session)
		}
		if eventHasConnectID(msg.EventType) {
			connect, err := readSized(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to read connect id: %w", err)
			}
			msg.ConnectID = string(connect)
		}
	}

	if header.MessageType == ErrorMessage {
		if msg.ErrorCode, err = readUint32(reader); err != nil {
			return nil, fmt.Errorf("failed to read error code: %w", err)
		}
	}

	payload, err := readSized(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	msg.PayloadSize = uint32(len(payload))
	if len(payload) > 0 {
		msg.Payload = payload
	}

	return msg, nil
}

func (m *Message) hasSequence() bool {
	seq := m.Header.MessageFlags & sequenceFlagMask
	return seq == PositiveSequenceNumber || seq == NegativeSequenceNumber
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putSized(buf *bytes.Buffer, data []byte) {
	putUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", size, err)
	}
	return data, nil
}

// CreateFullClientRequest 携带 JSON 参数的首帧
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:      NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}
}

// CreateAudioOnlyRequest 音频帧。最后一包的 sequence 取负；sequence 为 0 时不写 sequence。
func CreateAudioOnlyRequest(audioData []byte, sequence int32, isLast bool, compression CompressionMethod) *Message {
	flags := NoSequenceNumber
	switch {
	case isLast && sequence != 0:
		flags, sequence = NegativeSequenceNumber, -sequence
	case isLast:
		flags = LastPacketNoSequence
	case sequence > 0:
		flags = PositiveSequenceNumber
	}

	return &Message{
		Header:      NewHeader(AudioOnlyRequest, flags, NoSerialization, compression),
		Sequence:    sequence,
		PayloadSize: uint32(len(audioData)),
		Payload:     audioData,
	}
}

// 连接级事件不带 session id，只有连接应答带 connect id
func eventSkipsSessionID(event EventType) bool {
	return event == EventTypeStartConnection || event == EventTypeFinishConnection || eventHasConnectID(event)
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

// IsLastPacket 是否为最后一包
func (m *Message) IsLastPacket() bool {
	seq := m.Header.MessageFlags & sequenceFlagMask
	return seq == LastPacketNoSequence || seq == NegativeSequenceNumber
}
