// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cfgstruct binds a configuration struct to a pflag.FlagSet and to
// environment variables, driven entirely by struct tags. It is the single
// place service configuration is assembled: cmd/syncstorage and
// cmd/tokenserver both call Bind once on their root Config and never touch
// pflag or os.Getenv directly.
package cfgstruct

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix every bound environment variable carries.
const EnvPrefix = "SYNC"

// BindOpts configures a single Bind call.
type BindOpts struct {
	// Getenv is used instead of os.Getenv, for tests.
	Getenv func(string) string
}

// Bind walks c (a pointer to a struct) and registers a flag for every leaf
// field. Flag names are derived from the field path joined with dots,
// lower-cased ("Syncstorage.Limits.MaxPostBytes" ->
// "syncstorage.limits.max-post-bytes"); environment variable names are the
// same path joined with "__" and upper-cased, prefixed with EnvPrefix.
//
// Supported leaf kinds: string, bool, int, int64, uint, uint64, float64,
// time.Duration. Nested structs and fixed-size arrays of structs recurse.
func Bind(f *pflag.FlagSet, c interface{}, opts ...BindOpts) {
	var opt BindOpts
	if len(opts) > 0 {
		opt = opts[0]
	}
	v := reflect.ValueOf(c).Elem()
	bind(f, v, nil, opt)
}

func bind(f *pflag.FlagSet, v reflect.Value, path []string, opt BindOpts) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		fv := v.Field(i)
		fieldPath := append(append([]string{}, path...), field.Name)

		switch fv.Kind() {
		case reflect.Struct:
			bind(f, fv, fieldPath, opt)
			continue
		case reflect.Array:
			for idx := 0; idx < fv.Len(); idx++ {
				elemPath := append(append([]string{}, fieldPath...), strconv.Itoa(idx))
				bind(f, fv.Index(idx), elemPath, opt)
			}
			continue
		}

		def, hasDefault := field.Tag.Lookup("default")
		usage := field.Tag.Get("usage")
		flagName := flagName(fieldPath)
		envName := envName(fieldPath)

		raw := def
		if hasDefault {
			if env := lookupEnv(opt, envName); env != "" {
				raw = env
			}
		}

		bindLeaf(f, fv, flagName, raw, usage)
	}
}

func lookupEnv(opt BindOpts, name string) string {
	if opt.Getenv != nil {
		return opt.Getenv(name)
	}
	return os.Getenv(name)
}

func flagName(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = toKebab(p)
	}
	return strings.Join(parts, ".")
}

func envName(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strings.ToUpper(toSnake(p))
	}
	return EnvPrefix + "_" + strings.Join(parts, "__")
}

func toKebab(s string) string {
	return strings.ToLower(insertSep(s, "-"))
}

func toSnake(s string) string {
	return insertSep(s, "_")
}

func insertSep(s string, sep string) string {
	var b strings.Builder
	prevUpper := false
	for i, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if i > 0 && upper && !prevUpper {
			b.WriteString(sep)
		}
		b.WriteRune(r)
		prevUpper = upper
	}
	return b.String()
}

func bindLeaf(f *pflag.FlagSet, fv reflect.Value, name, raw, usage string) {
	switch fv.Interface().(type) {
	case string:
		f.StringVar(fv.Addr().Interface().(*string), name, raw, usage)
	case bool:
		val, _ := strconv.ParseBool(orZero(raw, "false"))
		f.BoolVar(fv.Addr().Interface().(*bool), name, val, usage)
	case int:
		val, _ := strconv.Atoi(orZero(raw, "0"))
		f.IntVar(fv.Addr().Interface().(*int), name, val, usage)
	case int64:
		val, _ := strconv.ParseInt(orZero(raw, "0"), 10, 64)
		f.Int64Var(fv.Addr().Interface().(*int64), name, val, usage)
	case uint:
		val, _ := strconv.ParseUint(orZero(raw, "0"), 10, 64)
		f.UintVar(fv.Addr().Interface().(*uint), name, uint(val), usage)
	case uint64:
		val, _ := strconv.ParseUint(orZero(raw, "0"), 10, 64)
		f.Uint64Var(fv.Addr().Interface().(*uint64), name, val, usage)
	case float64:
		val, _ := strconv.ParseFloat(orZero(raw, "0"), 64)
		f.Float64Var(fv.Addr().Interface().(*float64), name, val, usage)
	case time.Duration:
		val, _ := time.ParseDuration(orZero(raw, "0s"))
		f.DurationVar(fv.Addr().Interface().(*time.Duration), name, val, usage)
	default:
		panic(fmt.Sprintf("cfgstruct: unsupported field type %s for %s", fv.Type(), name))
	}
}

func orZero(raw, zero string) string {
	if raw == "" {
		return zero
	}
	return raw
}
