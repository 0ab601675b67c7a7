package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var segmentMagic = []byte("SSG1")

// ErrBadSegment is returned when segment bytes cannot be decoded.
var ErrBadSegment = errors.New("record: malformed segment")

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// EncodeSegment serializes an archived batch deterministically. Records and
// metrics are sorted by sequence before encoding, so the same logical batch
// always yields the same bytes and therefore the same content hash.
func EncodeSegment(recs []Record, metrics []DeliveryMetric) []byte {
	recs = append([]Record(nil), recs...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	metrics = append([]DeliveryMetric(nil), metrics...)
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Seq < metrics[j].Seq })

	size := len(segmentMagic) + 10
	for _, r := range recs {
		size += 8 + 8 + 10 + len(r.Payload)
	}
	out := make([]byte, 0, size)
	out = append(out, segmentMagic...)
	out = appendUvarint(out, uint64(len(recs)))
	for _, r := range recs {
		out = appendBE8(out, r.Seq)
		out = appendBE8(out, uint64(r.TimestampMs))
		out = appendUvarint(out, uint64(len(r.Payload)))
		out = append(out, r.Payload...)
	}
	out = appendUvarint(out, uint64(len(metrics)))
	for _, m := range metrics {
		out = appendBE8(out, m.Seq)
		var a [4]byte
		binary.BigEndian.PutUint32(a[:], m.Attempts)
		out = append(out, a[:]...)
		out = appendBE8(out, uint64(m.LastAttemptMs))
		out = appendUvarint(out, uint64(len(m.LastFailureReason)))
		out = append(out, m.LastFailureReason...)
	}
	return out
}

type segReader struct {
	b   []byte
	off int
}

func (r *segReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 {
		return 0, ErrBadSegment
	}
	r.off += n
	return v, nil
}

func (r *segReader) be8() (uint64, error) {
	if r.off+8 > len(r.b) {
		return 0, ErrBadSegment
	}
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *segReader) be4() (uint32, error) {
	if r.off+4 > len(r.b) {
		return 0, ErrBadSegment
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *segReader) bytes(n uint64) ([]byte, error) {
	if uint64(r.off)+n > uint64(len(r.b)) {
		return nil, ErrBadSegment
	}
	out := append([]byte(nil), r.b[r.off:r.off+int(n)]...)
	r.off += int(n)
	return out, nil
}

// DecodeSegment parses segment bytes back into records and metrics. The
// scope name is stamped onto the returned records; it is not stored in the
// segment itself (the cold index owns that association).
func DecodeSegment(scope string, b []byte) ([]Record, []DeliveryMetric, error) {
	if len(b) < len(segmentMagic) || string(b[:len(segmentMagic)]) != string(segmentMagic) {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrBadSegment)
	}
	r := &segReader{b: b, off: len(segmentMagic)}

	n, err := r.uvarint()
	if err != nil {
		return nil, nil, err
	}
	recs := make([]Record, 0, n)
	var prevSeq uint64
	for i := uint64(0); i < n; i++ {
		seq, err := r.be8()
		if err != nil {
			return nil, nil, err
		}
		if i > 0 && seq <= prevSeq {
			return nil, nil, fmt.Errorf("%w: sequence order violation at %d", ErrBadSegment, seq)
		}
		prevSeq = seq
		ts, err := r.be8()
		if err != nil {
			return nil, nil, err
		}
		plen, err := r.uvarint()
		if err != nil {
			return nil, nil, err
		}
		payload, err := r.bytes(plen)
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, Record{Scope: scope, Seq: seq, TimestampMs: int64(ts), Payload: payload})
	}

	mn, err := r.uvarint()
	if err != nil {
		return nil, nil, err
	}
	metrics := make([]DeliveryMetric, 0, mn)
	for i := uint64(0); i < mn; i++ {
		seq, err := r.be8()
		if err != nil {
			return nil, nil, err
		}
		attempts, err := r.be4()
		if err != nil {
			return nil, nil, err
		}
		lastMs, err := r.be8()
		if err != nil {
			return nil, nil, err
		}
		rlen, err := r.uvarint()
		if err != nil {
			return nil, nil, err
		}
		reason, err := r.bytes(rlen)
		if err != nil {
			return nil, nil, err
		}
		metrics = append(metrics, DeliveryMetric{
			Seq:               seq,
			Attempts:          attempts,
			LastAttemptMs:     int64(lastMs),
			LastFailureReason: string(reason),
		})
	}
	if r.off != len(b) {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrBadSegment, len(b)-r.off)
	}
	return recs, metrics, nil
}
