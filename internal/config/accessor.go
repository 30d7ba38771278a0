package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
)

var flexIDsType = reflect.TypeOf(FlexInt64List(nil))

// Setting is one leaf of Config addressed by its dot path, e.g.
// "download.maxConcurrent".
type Setting struct {
	Path  string
	Value any
}

// GetByPath returns the value at a dot path. A section path such as
// "download" returns the whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(cfg, path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses raw into the leaf at path. The change is applied only
// when the resulting config passes Validate, so a rejected value leaves
// cfg untouched.
func SetByPath(cfg *Config, path, raw string) error {
	next := *cfg
	v, err := lookup(&next, path)
	if err != nil {
		return err
	}
	if v.Kind() == reflect.Struct {
		return fmt.Errorf("%s is a section; set one of its keys instead", path)
	}
	if err := assign(v, strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(&next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// ListPaths returns every settable leaf, sorted by path.
func ListPaths(cfg *Config) []Setting {
	var out []Setting
	walk("", reflect.ValueOf(cfg).Elem(), func(path string, v reflect.Value) {
		out = append(out, Setting{Path: path, Value: v.Interface()})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Sanitize returns a copy of the config with the bot token masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Routing.AllowedGroupIDs = slices.Clone(cfg.Routing.AllowedGroupIDs)
	c.Download.ExtraArgs = slices.Clone(cfg.Download.ExtraArgs)
	if c.Telegram.Token != "" {
		c.Telegram.Token = maskString(c.Telegram.Token)
	}
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func lookup(cfg *Config, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, errors.New("empty config path")
	}
	v := reflect.ValueOf(cfg).Elem()
	for _, part := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("unknown config key %q", path)
		}
		f, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown config key %q (see 'config list --flat')", path)
		}
		v = f
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tagName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tagName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func walk(prefix string, v reflect.Value, fn func(string, reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := tagName(t.Field(i))
		if name == "" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if f := v.Field(i); f.Kind() == reflect.Struct {
			walk(path, f, fn)
		} else {
			fn(path, f)
		}
	}
}

// assign converts raw to the kind of v. Lists are comma-separated.
func assign(v reflect.Value, raw string) error {
	if v.Type() == flexIDsType {
		ids := ParseIDList(raw)
		if raw != "" && len(ids) == 0 {
			return fmt.Errorf("%q contains no numeric ids", raw)
		}
		v.Set(reflect.ValueOf(FlexInt64List(ids)))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%q is not a boolean", raw)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v.OverflowInt(n) {
			return fmt.Errorf("%q is not an integer", raw)
		}
		v.SetInt(n)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", v.Type())
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported type %s", v.Type())
	}
	return nil
}
