package cache

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// Key namespaces shared by the query controller and the mutation coordinator.
const (
	NamespaceItemList    = "item" + KeySeparator + "list"
	NamespaceItemDetail  = "item" + KeySeparator + "detail"
	NamespaceLendingList = "lending" + KeySeparator + "list"
	NamespaceUsers       = "users"
	NamespaceAnalytics   = "analytics"
)

// Key joins segments with KeySeparator.
func Key(segments ...string) string {
	return strings.Join(segments, KeySeparator)
}

// Digest returns a short, stable fingerprint of key for logs and metrics.
func Digest(key string) string {
	return strconv.FormatUint(xxhash.Sum64String(key), 16)
}

// SignatureSerializer builds the canonical filter signature for a query.
// Two filters that select the same rows must produce the same string.
type SignatureSerializer interface {
	Serialize(filter any) string
}

// defaultSignatureSerializer encodes the exported fields of a filter struct as
// sorted, escaped name=value pairs. Field names come from the `signature` tag
// (falling back to the lower-camel field name); zero values are omitted so
// that an unset facet and its default spell the same key. A tag of "-"
// excludes the field.
type defaultSignatureSerializer struct{}

// NewSignatureSerializer creates the default serializer.
func NewSignatureSerializer() SignatureSerializer {
	return defaultSignatureSerializer{}
}

func (s defaultSignatureSerializer) Serialize(filter any) string {
	if filter == nil {
		return ""
	}
	rv := reflect.ValueOf(filter)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return url.QueryEscape(s.serializeValue(rv))
	}

	values := url.Values{}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("signature")
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerFirst(field.Name)
		}
		fv := rv.Field(i)
		if fv.IsZero() {
			continue
		}
		values.Set(name, s.serializeValue(fv))
	}
	// Encode sorts by key.
	return values.Encode()
}

func (s defaultSignatureSerializer) serializeValue(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return s.serializeValue(rv.Elem())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = s.serializeValue(rv.Index(i))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", rv.Interface())
	}
}

func lowerFirst(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}
