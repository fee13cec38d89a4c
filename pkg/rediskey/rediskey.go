package rediskey

import "fmt"

const (
	SequencePrefix  = "seq"
	EventCodePrefix = "seq:event"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildEventCodeKey returns "seq:event:{yymmdd}"
func BuildEventCodeKey(day string) string {
	return NamespaceKey(EventCodePrefix, day)
}
