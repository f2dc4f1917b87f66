package cache

import "context"

// Nop - кэш, который ничего не хранит. Используется, когда redis не настроен.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, any) error         { return nil }
func (Nop) Invalidate(context.Context, string) error       { return nil }
