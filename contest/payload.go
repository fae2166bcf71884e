// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
)

// DatagramChannel is the custom-operation channel id under which contest
// datagrams are published, so other applications sharing the custom
// operation space can skip ours cheaply.
const DatagramChannel uint16 = 0x5357

// DatagramType tags the kind of payload inside a published datagram.
type DatagramType = uint8

// DatagramTypeContest marks a datagram carrying a new contest.
const DatagramTypeContest DatagramType = 1

// Datagram record types in the outer TLV stream.
const (
	typeDatagramKind    tlv.Type = 1
	typeDatagramKey     tlv.Type = 2
	typeDatagramContent tlv.Type = 3
)

// Contest option record types in the content TLV stream.
const (
	typeOptionsName        tlv.Type = 1
	typeOptionsDescription tlv.Type = 2
	typeOptionsContestants tlv.Type = 3
	typeOptionsEndTime     tlv.Type = 4
	typeOptionsType        tlv.Type = 5
	typeOptionsTally       tlv.Type = 6
)

// Datagram is the payload published to the ledger in a custom operation
// once a purchase settles.  The key is the creator's signature blob, carried
// opaquely; the content is the TLV-encoded contest options.
type Datagram struct {
	Kind    DatagramType
	Key     []byte
	Content []byte
}

// EncodePayload builds the datagram for a purchase request and returns its
// TLV encoding.  The encoding is computed once at session creation and never
// recomputed, so a given session always publishes identical bytes.
func EncodePayload(req *PurchaseRequest) ([]byte, error) {
	content, err := encodeOptions(&req.Options)
	if err != nil {
		return nil, err
	}

	kind := DatagramTypeContest
	key := req.CreatorSignature
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeDatagramKind, &kind),
		tlv.MakePrimitiveRecord(typeDatagramKey, &key),
		tlv.MakePrimitiveRecord(typeDatagramContent, &content),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload parses an encoded datagram.
func DecodePayload(payload []byte) (*Datagram, error) {
	var datagram Datagram
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeDatagramKind, &datagram.Kind),
		tlv.MakePrimitiveRecord(typeDatagramKey, &datagram.Key),
		tlv.MakePrimitiveRecord(typeDatagramContent, &datagram.Content),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(payload)); err != nil {
		return nil, err
	}
	return &datagram, nil
}

// DecodeOptions parses TLV-encoded contest options, e.g. a decoded
// datagram's content.
func DecodeOptions(content []byte) (*Options, error) {
	var (
		opts        Options
		name        []byte
		description []byte
		endTime     uint64
		typ         uint8
		tally       uint8
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeOptionsName, &name),
		tlv.MakePrimitiveRecord(typeOptionsDescription, &description),
		tlv.MakeDynamicRecord(
			typeOptionsContestants, &opts.Contestants,
			func() uint64 {
				return contestantsSize(opts.Contestants)
			},
			contestantsEncoder, contestantsDecoder,
		),
		tlv.MakePrimitiveRecord(typeOptionsEndTime, &endTime),
		tlv.MakePrimitiveRecord(typeOptionsType, &typ),
		tlv.MakePrimitiveRecord(typeOptionsTally, &tally),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(content)); err != nil {
		return nil, err
	}

	opts.Name = string(name)
	opts.Description = string(description)
	if endTime != 0 {
		opts.EndTime = time.UnixMilli(int64(endTime)).UTC()
	}
	opts.Type = Type(typ)
	opts.Tally = TallyAlgorithm(tally)
	return &opts, nil
}

func encodeOptions(opts *Options) ([]byte, error) {
	var (
		name        = []byte(opts.Name)
		description = []byte(opts.Description)
		endTime     uint64
		typ         = uint8(opts.Type)
		tally       = uint8(opts.Tally)
		contestants = opts.Contestants
	)
	if !opts.EndTime.IsZero() {
		endTime = uint64(opts.EndTime.UnixMilli())
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeOptionsName, &name),
		tlv.MakePrimitiveRecord(typeOptionsDescription, &description),
		tlv.MakeDynamicRecord(
			typeOptionsContestants, &contestants,
			func() uint64 {
				return contestantsSize(contestants)
			},
			contestantsEncoder, contestantsDecoder,
		),
		tlv.MakePrimitiveRecord(typeOptionsEndTime, &endTime),
		tlv.MakePrimitiveRecord(typeOptionsType, &typ),
		tlv.MakePrimitiveRecord(typeOptionsTally, &tally),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// contestantsSize returns the encoded length of a contestant list.
func contestantsSize(contestants []Contestant) uint64 {
	size := uint64(tlv.VarIntSize(uint64(len(contestants))))
	for _, c := range contestants {
		size += uint64(tlv.VarIntSize(uint64(len(c.Name))))
		size += uint64(len(c.Name))
		size += uint64(tlv.VarIntSize(uint64(len(c.Description))))
		size += uint64(len(c.Description))
	}
	return size
}

// contestantsEncoder is a tlv.Encoder for a []Contestant.
func contestantsEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	contestants, ok := val.(*[]Contestant)
	if !ok {
		return tlv.NewTypeForEncodingErr(val, "[]Contestant")
	}
	err := tlv.WriteVarInt(w, uint64(len(*contestants)), buf)
	if err != nil {
		return err
	}
	for _, c := range *contestants {
		if err := writeVarBytes(w, []byte(c.Name), buf); err != nil {
			return err
		}
		err := writeVarBytes(w, []byte(c.Description), buf)
		if err != nil {
			return err
		}
	}
	return nil
}

// contestantsDecoder is a tlv.Decoder for a []Contestant.
func contestantsDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	contestants, ok := val.(*[]Contestant)
	if !ok {
		return tlv.NewTypeForDecodingErr(val, "[]Contestant", l, l)
	}
	count, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return err
	}
	if count > maxContestantEntries {
		return errors.New("contestant list too long")
	}
	decoded := make([]Contestant, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readVarBytes(r, buf)
		if err != nil {
			return err
		}
		description, err := readVarBytes(r, buf)
		if err != nil {
			return err
		}
		decoded = append(decoded, Contestant{
			Name:        string(name),
			Description: string(description),
		})
	}
	*contestants = decoded
	return nil
}

// maxContestantEntries bounds decoding so a corrupt length prefix cannot
// cause a huge allocation.
const maxContestantEntries = 1 << 16

// maxContestantField bounds individual field decoding the same way.
const maxContestantField = 1 << 20

func writeVarBytes(w io.Writer, b []byte, buf *[8]byte) error {
	if err := tlv.WriteVarInt(w, uint64(len(b)), buf); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader, buf *[8]byte) ([]byte, error) {
	length, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return nil, err
	}
	if length > maxContestantField {
		return nil, errors.New("field too long")
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
