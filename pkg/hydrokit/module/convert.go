package module

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	lua "github.com/Shopify/go-lua"
)

// maxDepth bounds table conversion so cyclic tables terminate.
const maxDepth = 32

// push converts v to a Lua value on top of the stack.
func push(l *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case string:
		l.PushString(x)
	case []byte:
		l.PushString(string(x))
	case int:
		l.PushInteger(x)
	case int32:
		l.PushInteger(int(x))
	case int64:
		l.PushInteger(int(x))
	case uint:
		l.PushNumber(float64(x))
	case uint32:
		l.PushNumber(float64(x))
	case uint64:
		l.PushNumber(float64(x))
	case float32:
		l.PushNumber(float64(x))
	case float64:
		l.PushNumber(x)
	case error:
		l.PushString(x.Error())
	case lua.Function:
		l.PushGoFunction(x)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(x, &decoded); err != nil {
			l.PushString(string(x))
			return
		}
		push(l, decoded)
	case []any:
		l.CreateTable(len(x), 0)
		for i, e := range x {
			push(l, e)
			l.RawSetInt(-2, i+1)
		}
	case []string:
		l.CreateTable(len(x), 0)
		for i, e := range x {
			l.PushString(e)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.CreateTable(0, len(x))
		for k, e := range x {
			push(l, e)
			l.SetField(-2, k)
		}
	case map[string]string:
		l.CreateTable(0, len(x))
		for k, e := range x {
			l.PushString(e)
			l.SetField(-2, k)
		}
	default:
		// Structs and other shapes travel through their JSON form.
		data, err := json.Marshal(x)
		if err != nil {
			l.PushString(fmt.Sprint(x))
			return
		}
		push(l, json.RawMessage(data))
	}
}

// value converts the Lua value at idx to Go. Tables with keys 1..n become
// []any, other tables map[string]any. Functions and threads become nil.
func value(l *lua.State, idx int) any {
	return valueAt(l, l.AbsIndex(idx), 0)
}

func valueAt(l *lua.State, idx, depth int) any {
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		if depth >= maxDepth {
			return nil
		}
		return tableAt(l, idx, depth+1)
	case lua.TypeUserData:
		return l.ToUserData(idx)
	}
	return nil
}

func tableAt(l *lua.State, idx, depth int) any {
	fields := make(map[string]any)
	count := 0

	l.PushNil()
	for l.Next(idx) {
		count++
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			key = strconv.FormatFloat(n, 'f', -1, 64)
		default:
			l.Pop(1)
			continue
		}
		fields[key] = valueAt(l, l.AbsIndex(-1), depth)
		l.Pop(1)
	}

	n := l.RawLength(idx)
	if n == 0 || n != count {
		return fields
	}
	list := make([]any, n)
	for i := 1; i <= n; i++ {
		list[i-1] = fields[strconv.Itoa(i)]
	}
	return list
}

// keys returns the string keys of the table at idx, sorted.
func keys(l *lua.State, idx int) []string {
	idx = l.AbsIndex(idx)
	var out []string
	l.PushNil()
	for l.Next(idx) {
		if l.TypeOf(-2) == lua.TypeString {
			k, _ := l.ToString(-2)
			out = append(out, k)
		}
		l.Pop(1)
	}
	sort.Strings(out)
	return out
}
