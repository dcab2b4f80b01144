package channel

import (
	"fmt"

	"github.com/viant/bintly"
)

// TransferItem carries one collected entity's identity and cached bytes.
type TransferItem struct {
	ObjectID int64
	TypeID   int64
	Data     []byte
}

// TransferChunk is the buffer handed to the collaborating query layer by the
// CollectLoadBy* operations, and the unit accepted by StoreEntities.
type TransferChunk struct {
	Timestamp int64
	Items     []TransferItem
}

// EncodeBinary encodes the chunk into a bintly stream.
func (c *TransferChunk) EncodeBinary(stream *bintly.Writer) error {
	stream.Int64(c.Timestamp)
	stream.Int32(int32(len(c.Items)))
	for i := range c.Items {
		item := &c.Items[i]
		stream.Int64(item.ObjectID)
		stream.Int64(item.TypeID)
		stream.Uint8s(item.Data)
	}
	return nil
}

// DecodeBinary decodes the chunk from a bintly stream.
func (c *TransferChunk) DecodeBinary(stream *bintly.Reader) error {
	stream.Int64(&c.Timestamp)
	var count int32
	stream.Int32(&count)
	if count < 0 {
		return fmt.Errorf("channel: transfer chunk item count %d", count)
	}
	c.Items = make([]TransferItem, count)
	for i := range c.Items {
		item := &c.Items[i]
		stream.Int64(&item.ObjectID)
		stream.Int64(&item.TypeID)
		stream.Uint8s(&item.Data)
	}
	return nil
}

// Marshal serializes the chunk for transport.
func (c *TransferChunk) Marshal() ([]byte, error) {
	writers := bintly.NewWriters()
	writer := writers.Get()
	defer writers.Put(writer)
	if err := c.EncodeBinary(writer); err != nil {
		return nil, err
	}
	data := writer.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// UnmarshalTransferChunk deserializes a chunk produced by Marshal.
func UnmarshalTransferChunk(data []byte) (*TransferChunk, error) {
	readers := bintly.NewReaders()
	reader := readers.Get()
	defer readers.Put(reader)
	if err := reader.FromBytes(data); err != nil {
		return nil, err
	}
	chunk := &TransferChunk{}
	if err := chunk.DecodeBinary(reader); err != nil {
		return nil, err
	}
	return chunk, nil
}
