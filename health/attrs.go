package health

import (
	"expvar"

	"go.opentelemetry.io/otel/attribute"
)

func diskPathAttribute(dir string) attribute.KeyValue {
	return attribute.String("disk_path", dir)
}

// expvarInt returns a fresh *expvar.Int holding v, suitable as the value
// argument to expvar.Map.Set — the map keeps one such leaf per disk path.
func expvarInt(v int64) *expvar.Int {
	iv := new(expvar.Int)
	iv.Set(v)
	return iv
}
