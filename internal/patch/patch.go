// Package patch computes and applies structural diffs between JSON-like
// document trees.
//
// Trees are the usual encoding/json shapes: map[string]any for objects,
// []any for arrays, and float64/string/bool/nil for scalars. Diff emits an
// ordered operation list that transforms the old tree into the new one;
// Apply replays such a list. The two are inverses in the sense the event
// log depends on: Apply(old, Diff(old, new)) is structurally equal to new.
package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ErrApplication indicates that an operation's path could not be resolved
// against the tree. A failed apply means the event log and the snapshot
// disagree, so callers must abort the surrounding operation.
var ErrApplication = errors.New("patch application failed")

// Operation is a single patch step in RFC 6902 form.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Supported operation kinds. Diff only emits add, replace and remove;
// Apply accepts all six.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
)

// Normalize round-trips a value through JSON so that in-memory trees and
// decoded wire trees compare equal (ints become float64, structs become
// maps).
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// Equal reports structural equality of two normalized trees.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Diff returns the ordered operation list transforming old into new.
// Object keys are visited in sorted order so identical inputs always
// produce the identical list. Equal inputs produce an empty list.
func Diff(oldTree, newTree any) []Operation {
	return diffValue("", oldTree, newTree, nil)
}

func diffValue(path string, oldVal, newVal any, ops []Operation) []Operation {
	if Equal(oldVal, newVal) {
		return ops
	}

	oldMap, oldIsMap := oldVal.(map[string]any)
	newMap, newIsMap := newVal.(map[string]any)
	if oldIsMap && newIsMap {
		return diffObject(path, oldMap, newMap, ops)
	}

	oldArr, oldIsArr := oldVal.([]any)
	newArr, newIsArr := newVal.([]any)
	if oldIsArr && newIsArr {
		return diffArray(path, oldArr, newArr, ops)
	}

	return append(ops, Operation{Op: OpReplace, Path: path, Value: newVal})
}

func diffObject(path string, oldMap, newMap map[string]any, ops []Operation) []Operation {
	keys := make([]string, 0, len(oldMap)+len(newMap))
	seen := make(map[string]bool, len(oldMap)+len(newMap))
	for k := range oldMap {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range newMap {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		childPath := path + "/" + escapeToken(k)
		oldChild, inOld := oldMap[k]
		newChild, inNew := newMap[k]
		switch {
		case inOld && !inNew:
			ops = append(ops, Operation{Op: OpRemove, Path: childPath})
		case !inOld && inNew:
			ops = append(ops, Operation{Op: OpAdd, Path: childPath, Value: newChild})
		default:
			ops = diffValue(childPath, oldChild, newChild, ops)
		}
	}
	return ops
}

func diffArray(path string, oldArr, newArr []any, ops []Operation) []Operation {
	shared := len(oldArr)
	if len(newArr) < shared {
		shared = len(newArr)
	}

	for i := 0; i < shared; i++ {
		ops = diffValue(path+"/"+strconv.Itoa(i), oldArr[i], newArr[i], ops)
	}

	// Grow with appends, shrink by removing the tail highest-index first so
	// that earlier removals do not shift the paths of later ones.
	for i := shared; i < len(newArr); i++ {
		ops = append(ops, Operation{Op: OpAdd, Path: path + "/" + strconv.Itoa(i), Value: newArr[i]})
	}
	for i := len(oldArr) - 1; i >= shared; i-- {
		ops = append(ops, Operation{Op: OpRemove, Path: path + "/" + strconv.Itoa(i)})
	}
	return ops
}

// Apply replays ops against tree in order and returns the resulting tree.
// The input tree is never mutated; on the first failing operation the
// original tree is still intact and an error wrapping ErrApplication is
// returned.
func Apply(tree any, ops []Operation) (any, error) {
	result := deepCopy(tree)

	for i, op := range ops {
		var err error
		result, err = applyOne(result, op)
		if err != nil {
			return nil, fmt.Errorf("%w: op %d (%s %s): %v", ErrApplication, i, op.Op, op.Path, err)
		}
	}
	return result, nil
}

func applyOne(tree any, op Operation) (any, error) {
	switch op.Op {
	case OpAdd:
		return setAtPath(tree, splitPointer(op.Path), deepCopy(op.Value), true)

	case OpReplace:
		return setAtPath(tree, splitPointer(op.Path), deepCopy(op.Value), false)

	case OpRemove:
		updated, _, err := removeAtPath(tree, splitPointer(op.Path))
		return updated, err

	case OpMove:
		updated, moved, err := removeAtPath(tree, splitPointer(op.From))
		if err != nil {
			return nil, fmt.Errorf("move from %s: %w", op.From, err)
		}
		return setAtPath(updated, splitPointer(op.Path), moved, true)

	case OpCopy:
		src, err := getAtPath(tree, splitPointer(op.From))
		if err != nil {
			return nil, fmt.Errorf("copy from %s: %w", op.From, err)
		}
		return setAtPath(tree, splitPointer(op.Path), deepCopy(src), true)

	case OpTest:
		actual, err := getAtPath(tree, splitPointer(op.Path))
		if err != nil {
			return nil, err
		}
		if !Equal(actual, op.Value) {
			return nil, fmt.Errorf("test failed at %s", op.Path)
		}
		return tree, nil

	default:
		return nil, fmt.Errorf("unsupported operation %q", op.Op)
	}
}

// setAtPath writes val at the pointer given by segs and returns the updated
// subtree. Empty segs replaces the whole tree. insert distinguishes add
// (may create map keys, may insert into arrays, "-" appends) from replace
// (target must already exist).
func setAtPath(node any, segs []string, val any, insert bool) (any, error) {
	if len(segs) == 0 {
		return val, nil
	}
	seg, rest := segs[0], segs[1:]

	switch container := node.(type) {
	case map[string]any:
		if len(rest) == 0 {
			if !insert {
				if _, ok := container[seg]; !ok {
					return nil, fmt.Errorf("key %q not found", seg)
				}
			}
			container[seg] = val
			return container, nil
		}
		child, ok := container[seg]
		if !ok {
			return nil, fmt.Errorf("key %q not found", seg)
		}
		updated, err := setAtPath(child, rest, val, insert)
		if err != nil {
			return nil, err
		}
		container[seg] = updated
		return container, nil

	case []any:
		if len(rest) == 0 {
			if insert {
				idx, err := arrayIndex(seg, len(container), true)
				if err != nil {
					return nil, err
				}
				container = append(container, nil)
				copy(container[idx+1:], container[idx:])
				container[idx] = val
				return container, nil
			}
			idx, err := arrayIndex(seg, len(container), false)
			if err != nil {
				return nil, err
			}
			container[idx] = val
			return container, nil
		}
		idx, err := arrayIndex(seg, len(container), false)
		if err != nil {
			return nil, err
		}
		updated, err := setAtPath(container[idx], rest, val, insert)
		if err != nil {
			return nil, err
		}
		container[idx] = updated
		return container, nil

	default:
		return nil, fmt.Errorf("cannot descend into non-container at %q", seg)
	}
}

// removeAtPath deletes the value at segs, returning the updated subtree and
// the removed value.
func removeAtPath(node any, segs []string) (any, any, error) {
	if len(segs) == 0 {
		return nil, nil, errors.New("cannot remove document root")
	}
	seg, rest := segs[0], segs[1:]

	switch container := node.(type) {
	case map[string]any:
		child, ok := container[seg]
		if !ok {
			return nil, nil, fmt.Errorf("key %q not found", seg)
		}
		if len(rest) == 0 {
			delete(container, seg)
			return container, child, nil
		}
		updated, removed, err := removeAtPath(child, rest)
		if err != nil {
			return nil, nil, err
		}
		container[seg] = updated
		return container, removed, nil

	case []any:
		idx, err := arrayIndex(seg, len(container), false)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) == 0 {
			removed := container[idx]
			container = append(container[:idx], container[idx+1:]...)
			return container, removed, nil
		}
		updated, removed, err := removeAtPath(container[idx], rest)
		if err != nil {
			return nil, nil, err
		}
		container[idx] = updated
		return container, removed, nil

	default:
		return nil, nil, fmt.Errorf("cannot descend into non-container at %q", seg)
	}
}

// getAtPath resolves segs against node without modifying anything.
func getAtPath(node any, segs []string) (any, error) {
	current := node
	for _, seg := range segs {
		switch container := current.(type) {
		case map[string]any:
			child, ok := container[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found", seg)
			}
			current = child
		case []any:
			idx, err := arrayIndex(seg, len(container), false)
			if err != nil {
				return nil, err
			}
			current = container[idx]
		default:
			return nil, fmt.Errorf("cannot descend into non-container at %q", seg)
		}
	}
	return current, nil
}

// arrayIndex parses an array token. allowAppend admits "-" and len(arr) for
// add operations.
func arrayIndex(seg string, length int, allowAppend bool) (int, error) {
	if seg == "-" {
		if !allowAppend {
			return 0, errors.New(`"-" index only valid for add`)
		}
		return length, nil
	}
	idx, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("invalid array index %q", seg)
	}
	limit := length
	if allowAppend {
		limit = length + 1
	}
	if idx < 0 || idx >= limit {
		return 0, fmt.Errorf("array index %d out of bounds (len %d)", idx, length)
	}
	return idx, nil
}

// splitPointer turns a JSON Pointer into unescaped segments. "" addresses
// the document root.
func splitPointer(pointer string) []string {
	if pointer == "" {
		return nil
	}
	parts := strings.Split(pointer, "/")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	segs := make([]string, len(parts))
	for i, p := range parts {
		segs[i] = unescapeToken(p)
	}
	return segs
}

func escapeToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

func unescapeToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
