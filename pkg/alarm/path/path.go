// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package path splits and joins the slash-delimited names that address
// items in an alarm tree, e.g. "Accel/Vacuum/Gauge1".
//
// The first segment is always the name of the configuration root.
// A "/" that belongs to an item name is escaped as `\/`, a backslash as `\\`.
package path

import (
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// Separator between path segments.
const Separator = '/'

const escape = '\\'

// Record type prefixes used by older producers in front of the path.
var legacyPrefixes = []string{"config:", "state:", "command:"}

// ErrInvalidPath is matched by every *InvalidPathError.
var ErrInvalidPath = errors.New("invalid alarm tree path")

// InvalidPathError describes why a path could not be split or joined.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid alarm tree path %q: %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// Split returns the unescaped segments of p.
func Split(p string) ([]string, error) {
	if p == "" {
		return nil, &InvalidPathError{Path: p, Reason: "empty path"}
	}
	if p[0] == Separator {
		return nil, &InvalidPathError{Path: p, Reason: "leading content before root separator"}
	}

	segments := make([]string, 0, strings.Count(p, "/")+1)
	var current strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == escape {
			if i+1 == len(p) || (p[i+1] != Separator && p[i+1] != escape) {
				return nil, &InvalidPathError{Path: p, Reason: "dangling escape"}
			}
			current.WriteByte(p[i+1])
			i++
			continue
		}
		if c == Separator {
			if current.Len() == 0 {
				return nil, &InvalidPathError{Path: p, Reason: "empty segment"}
			}
			segments = append(segments, current.String())
			current.Reset()
			continue
		}
		current.WriteByte(c)
	}
	if current.Len() == 0 {
		return nil, &InvalidPathError{Path: p, Reason: "trailing separator"}
	}
	return append(segments, current.String()), nil
}

// Join escapes and joins segments. It is the inverse of Split.
func Join(segments ...string) (string, error) {
	if len(segments) == 0 {
		return "", &InvalidPathError{Reason: "no segments"}
	}
	var b strings.Builder
	for i, s := range segments {
		if s == "" {
			return "", &InvalidPathError{Path: strings.Join(segments, "/"), Reason: fmt.Sprintf("segment %d is empty", i)}
		}
		if i > 0 {
			b.WriteByte(Separator)
		}
		b.WriteString(escapeName(s))
	}
	return b.String(), nil
}

// escapeName protects separators and escapes inside a name.
func escapeName(name string) string {
	if !strings.ContainsAny(name, `/\`) {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == Separator || name[i] == escape {
			b.WriteByte(escape)
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

// Make appends name to an existing path.
func Make(parent string, name string) (string, error) {
	segments, err := Split(parent)
	if err != nil {
		return "", err
	}
	return Join(append(segments, name)...)
}

// Parent returns the path of the parent item. The root has no parent.
func Parent(p string) (string, error) {
	segments, err := Split(p)
	if err != nil {
		return "", err
	}
	if len(segments) == 1 {
		return "", &InvalidPathError{Path: p, Reason: "root has no parent"}
	}
	return Join(segments[:len(segments)-1]...)
}

// Name returns the last, unescaped segment of p.
func Name(p string) (string, error) {
	segments, err := Split(p)
	if err != nil {
		return "", err
	}
	return segments[len(segments)-1], nil
}

// Depth returns the number of segments. The root has depth 1.
func Depth(p string) (int, error) {
	segments, err := Split(p)
	if err != nil {
		return 0, err
	}
	return len(segments), nil
}

// Normalize turns a record key into a path. Keys written by older producers
// look like "config:/Accel/Vacuum"; the type prefix and one leading
// separator are removed. The returned prefix is "" for plain keys.
func Normalize(key string) (p string, prefix string) {
	p = strings.TrimSpace(key)
	for _, candidate := range legacyPrefixes {
		if strings.HasPrefix(p, candidate) {
			prefix = strings.TrimSuffix(candidate, ":")
			p = p[len(candidate):]
			break
		}
	}
	if len(p) > 0 && p[0] == Separator {
		p = p[1:]
	}
	return p, prefix
}

var splitLruCache, _ = lru.New(4096)

// SplitCached returns Split(p), memoised in an LRU cache.
// The returned slice is owned by the caller.
func SplitCached(p string) ([]string, error) {
	if value, ok := splitLruCache.Get(p); ok {
		cached := value.([]string)
		return append([]string(nil), cached...), nil
	}
	segments, err := Split(p)
	if err != nil {
		return nil, err
	}
	splitLruCache.Add(p, append([]string(nil), segments...))
	return segments, nil
}
