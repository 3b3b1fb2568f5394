package entity

import (
	"fmt"
	"strings"
	"sync"
)

// RawDecoder decodes payload bytes into a concrete entity.
type RawDecoder func(payload []byte) (Entity, error)

type variantRule struct {
	pkPrefix string
	rkPrefix string
	decode   RawDecoder
}

// Registry resolves a decoder from a row identity, for tables that host
// heterogeneous payloads keyed by fixed partition/row key patterns. The
// variant is derived deterministically from the identity pair at decode
// time; first registered match wins.
type Registry struct {
	mu    sync.RWMutex
	rules []variantRule
}

// NewRegistry creates an empty variant registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds a decoder to rows whose partition key and row key start
// with the given prefixes. An empty prefix matches everything.
func (r *Registry) Register(pkPrefix, rkPrefix string, decode RawDecoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, variantRule{pkPrefix: pkPrefix, rkPrefix: rkPrefix, decode: decode})
}

// Decode resolves the decoder for the identity pair and applies it.
func (r *Registry) Decode(partitionKey, rowKey string, payload []byte) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if strings.HasPrefix(partitionKey, rule.pkPrefix) && strings.HasPrefix(rowKey, rule.rkPrefix) {
			return rule.decode(payload)
		}
	}
	return nil, fmt.Errorf("%w: (%s, %s)", ErrNoDecoder, partitionKey, rowKey)
}
