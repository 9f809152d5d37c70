package health

import (
	"expvar"
	"fmt"
)

// publishExpvarInt safely publishes an expvar.Int, reusing an
// already-registered variable of the same name and type rather than
// panicking, so constructing a second Reporter in the same process (as
// tests routinely do) doesn't crash on expvar's global registry.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

// publishExpvarMap safely publishes an expvar.Map, same reuse rule as
// publishExpvarInt.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}
