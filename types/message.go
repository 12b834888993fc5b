package types

import "fmt"

// MessageType tags the content of a Message envelope (6.1).
type MessageType uint16

const (
	MessageTransaction      MessageType = 5
	MessageNewBlock         MessageType = 9
	MessageBlockVote        MessageType = 19
	MessageBlockVoteResponse MessageType = 20
	MessageNodeJoinV2       MessageType = 43
)

func (t MessageType) String() string {
	switch t {
	case MessageTransaction:
		return "Transaction"
	case MessageNewBlock:
		return "NewBlock"
	case MessageBlockVote:
		return "BlockVote"
	case MessageBlockVoteResponse:
		return "BlockVoteResponse"
	case MessageNodeJoinV2:
		return "NodeJoinV2"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

// BlockVoteContent is the content of a tag-19 message: (height, hash).
type BlockVoteContent struct {
	Height uint64
	Hash   Hash
}

func (c *BlockVoteContent) Encode() []byte {
	w := NewWriter()
	w.PutU64(c.Height)
	w.PutHash(c.Hash)
	return w.Bytes()
}

func DecodeBlockVoteContent(b []byte) (*BlockVoteContent, error) {
	r := NewReader(b)
	c := &BlockVoteContent{}
	var err error
	if c.Height, err = r.GetU64(); err != nil {
		return nil, fmt.Errorf("types: decode vote height: %w", err)
	}
	if c.Hash, err = r.GetHash(); err != nil {
		return nil, fmt.Errorf("types: decode vote hash: %w", err)
	}
	return c, nil
}

// Message is the signed envelope every inbound message arrives as (6.1):
// length(u32) ‖ timestamp(i64) ‖ type(u16) ‖ content ‖ sender_id(32) ‖ sender_sig(64).
// sender_sig covers everything from timestamp through sender_id.
type Message struct {
	Timestamp Timestamp
	Type      MessageType
	Content   []byte
	SenderID  Identifier
	SenderSig Signature
}

// SigningBody is the portion of the envelope the sender's signature covers.
func (m *Message) SigningBody() []byte {
	w := NewWriter()
	w.PutTimestamp(m.Timestamp)
	w.PutU16(uint16(m.Type))
	w.PutRaw(m.Content)
	w.PutIdentifier(m.SenderID)
	return w.Bytes()
}

// Encode produces the full u32-length-prefixed wire bytes.
func (m *Message) Encode() []byte {
	body := m.SigningBody()
	w := NewWriter()
	w.PutU32(uint32(len(body) + len(m.SenderSig)))
	w.PutRaw(body)
	w.PutSignature(m.SenderSig)
	return w.Bytes()
}

func DecodeMessage(buf []byte) (*Message, error) {
	r := NewReader(buf)
	length, err := r.GetU32()
	if err != nil {
		return nil, fmt.Errorf("types: decode message length: %w", err)
	}
	if int(length) > r.Remaining() {
		return nil, fmt.Errorf("types: message length %d exceeds remaining %d", length, r.Remaining())
	}
	m := &Message{}
	if m.Timestamp, err = r.GetTimestamp(); err != nil {
		return nil, fmt.Errorf("types: decode message timestamp: %w", err)
	}
	typ, err := r.GetU16()
	if err != nil {
		return nil, fmt.Errorf("types: decode message type: %w", err)
	}
	m.Type = MessageType(typ)
	contentLen := int(length) - 8 - 2 - 32 - 64
	if contentLen < 0 {
		return nil, fmt.Errorf("types: message length %d too small for envelope overhead", length)
	}
	if m.Content, err = r.GetRaw(contentLen); err != nil {
		return nil, fmt.Errorf("types: decode message content: %w", err)
	}
	if m.SenderID, err = r.GetIdentifier(); err != nil {
		return nil, fmt.Errorf("types: decode message sender_id: %w", err)
	}
	if m.SenderSig, err = r.GetSignature(); err != nil {
		return nil, fmt.Errorf("types: decode message sender_sig: %w", err)
	}
	return m, nil
}
