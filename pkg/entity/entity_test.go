package entity

import (
	"errors"
	"reflect"
	"testing"
)

type order struct {
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id"`
	TS         int64  `json:"-"`
	Amount     int64  `json:"amount"`
	Expiry     int64  `json:"expiry,omitempty"`
}

func (o order) PartitionKey() string { return o.CustomerID }
func (o order) RowKey() string       { return o.OrderID }
func (o order) TimeStamp() int64     { return o.TS }
func (o order) ExpiresAt() int64     { return o.Expiry }

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := NewJSON[order]()

	tests := []order{
		{CustomerID: "cust-1", OrderID: "ord-1", Amount: 4200},
		{CustomerID: "cust-2", OrderID: "ord-9", Amount: 0, Expiry: 1700000000000},
		{},
	}

	for _, want := range tests {
		payload, err := codec.Encode(want)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", want, err)
		}
		got, err := codec.Decode(payload)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestJSONCodecMalformed(t *testing.T) {
	codec := NewJSON[order]()

	_, err := codec.Decode([]byte(`{"customer_id": 12`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode(truncated json) = %v, want ErrMalformed", err)
	}
}

func TestJSONCodecDeterministic(t *testing.T) {
	codec := NewJSON[order]()
	o := order{CustomerID: "cust-1", OrderID: "ord-1", Amount: 10}

	a, err := codec.Encode(o)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := codec.Encode(o)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("Encode not deterministic: %q vs %q", a, b)
	}
}

func TestRegistryVariantDispatch(t *testing.T) {
	reg := NewRegistry()

	orderCodec := NewJSON[order]()
	reg.Register("cust-", "ord-", func(payload []byte) (Entity, error) {
		return orderCodec.Decode(payload)
	})

	payload, _ := orderCodec.Encode(order{CustomerID: "cust-1", OrderID: "ord-1", Amount: 7})

	got, err := reg.Decode("cust-1", "ord-1", payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.PartitionKey() != "cust-1" || got.RowKey() != "ord-1" {
		t.Fatalf("decoded identity = (%s, %s), want (cust-1, ord-1)", got.PartitionKey(), got.RowKey())
	}

	if _, err := reg.Decode("sess-1", "tok-1", payload); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("Decode(unmatched) = %v, want ErrNoDecoder", err)
	}
}

func TestRegistryFirstMatchWins(t *testing.T) {
	reg := NewRegistry()

	reg.Register("cust-", "", func([]byte) (Entity, error) {
		return order{CustomerID: "first"}, nil
	})
	reg.Register("", "", func([]byte) (Entity, error) {
		return order{CustomerID: "fallback"}, nil
	})

	got, err := reg.Decode("cust-9", "anything", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.PartitionKey() != "first" {
		t.Fatalf("PartitionKey = %q, want first registered rule to win", got.PartitionKey())
	}
}
