package mirror

import (
	"github.com/tablemesh/tablemesh-go/internal/core/domain"
	"github.com/tablemesh/tablemesh-go/pkg/entity"
)

// GetAs reads one row and decodes its payload with the given codec.
// Decode failures surface as a codec error; the mirror itself stays
// untouched and consistent.
func GetAs[T entity.Entity](r *Reader, codec entity.Codec[T], partitionKey, rowKey string) (T, bool, error) {
	var zero T

	rec, ok, err := r.Get(partitionKey, rowKey)
	if err != nil || !ok {
		return zero, false, err
	}

	v, err := codec.Decode(rec.Payload)
	if err != nil {
		return zero, false, domain.ErrCodec.WithCause(err)
	}
	return v, true, nil
}

// PartitionAs reads a partition and decodes every payload with the given
// codec. A single undecodable row fails the whole call; callers that want
// skip semantics read raw records instead.
func PartitionAs[T entity.Entity](r *Reader, codec entity.Codec[T], partitionKey string) ([]T, error) {
	recs, err := r.GetPartition(partitionKey)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := codec.Decode(rec.Payload)
		if err != nil {
			return nil, domain.ErrCodec.WithCause(err)
		}
		out = append(out, v)
	}
	return out, nil
}
