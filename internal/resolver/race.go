package resolver

import (
	"context"

	"go.uber.org/multierr"

	"serverlink/internal/address"
	"serverlink/internal/dynamic"
)

// raceCandidates tries all https candidates at once and takes the first
// success; only when none succeeds does it race the http ones.
func (r *Resolver) raceCandidates(ctx context.Context, candidates []string) (string, *dynamic.Data, error) {
	var secure, plain []string
	for _, c := range candidates {
		if address.IsHTTPS(c) {
			secure = append(secure, c)
		} else {
			plain = append(plain, c)
		}
	}

	var errs error
	for _, group := range [][]string{secure, plain} {
		if len(group) == 0 {
			continue
		}
		base, d, err := r.firstSuccess(ctx, group)
		if err == nil {
			return base, d, nil
		}
		errs = multierr.Append(errs, err)
	}
	if errs == nil {
		errs = errNoCandidates
	}
	return "", nil, errs
}

type fetchResult struct {
	base string
	data *dynamic.Data
	err  error
}

// firstSuccess returns the first candidate whose dynamic.json loads.
// Returning cancels the context the losers run under.
func (r *Resolver) firstSuccess(ctx context.Context, group []string) (string, *dynamic.Data, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DynamicTimeout)
	defer cancel()

	results := make(chan fetchResult, len(group))
	for _, base := range group {
		go func(base string) {
			d, err := r.dyn.Dynamic(ctx, base)
			results <- fetchResult{base: base, data: d, err: err}
		}(base)
	}

	var errs error
	for range group {
		res := <-results
		if res.err == nil {
			return res.base, res.data, nil
		}
		errs = multierr.Append(errs, res.err)
	}
	return "", nil, errs
}
