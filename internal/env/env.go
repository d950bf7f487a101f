// Package env composes the environment handed to the core process.
package env

import (
	"os"
	"slices"
	"strings"
)

type Var map[string]string

type Env struct {
	Var  Var // configured variables (K->V)
	base Var // cached base from OS environment
	drop map[string]struct{}
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.FromList(os.Environ())
}

// FromList uses kvs ("K=V") as the base instead of the OS environment.
func (e *Env) FromList(kvs []string) {
	base := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	e.base = base
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a configured variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Drop hides k from the result even if the base or overrides define it.
func (e *Env) Drop(k string) {
	if e.drop == nil {
		e.drop = make(map[string]struct{})
	}
	e.drop[k] = struct{}{}
}

// Merge composes the final environment list applying order:
// base = OS env (or cached list)
// then e.Var overrides
// then extra (slice of "K=V") overrides.
// Values get ${VAR} expansion against the composed map (no recursion).
// The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extra {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" { // skip malformed entries
			continue
		}
		m[k] = v
	}
	for k := range e.drop {
		delete(m, k)
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	slices.Sort(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
