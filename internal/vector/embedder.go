package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is the default embedder: feature hashing of word uni- and
// bigrams into Dim buckets, L2-normalized. It has no external
// dependency and is deterministic, which is what the tests and the
// offline deployments need; production tenants point Embedder at a real
// model instead.
type HashEmbedder struct{}

func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = hashEmbed(t)
	}
	return out, nil
}

func hashEmbed(text string) []float32 {
	vec := make([]float32, Dim)
	tokens := tokenize(text)
	bump := func(s string) {
		h := fnv.New32a()
		h.Write([]byte(s))
		sum := h.Sum32()
		idx := sum % Dim
		// Sign bit from the hash keeps buckets from only accumulating.
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	for i, tok := range tokens {
		bump(tok)
		if i+1 < len(tokens) {
			bump(tok + " " + tokens[i+1])
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
