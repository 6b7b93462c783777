package identity

import "context"

// StaticResolver maps opaque tokens to fixed principals. Used in tests and
// single-user local deployments.
type StaticResolver struct {
	principals map[string]*Principal
}

var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver builds a resolver over a fixed token table.
func NewStaticResolver(principals map[string]*Principal) *StaticResolver {
	return &StaticResolver{principals: principals}
}

// Resolve looks the token up in the table.
func (r *StaticResolver) Resolve(_ context.Context, token string) (*Principal, error) {
	p, ok := r.principals[token]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return p, nil
}
