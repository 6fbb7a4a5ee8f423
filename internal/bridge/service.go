// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"fmt"
	"reflect"

	"github.com/invowk/realmbridge/internal/framework"
)

// Service is GetService for the type T.
func Service[T any](b *Bridge, filter string) (T, error) {
	var zero T
	svc, err := b.GetService(reflect.TypeFor[T](), filter)
	if err != nil {
		return zero, err
	}
	v, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T is not %s", framework.ErrInvalidService, svc, reflect.TypeFor[T]())
	}
	return v, nil
}

// Register is RegisterService for the type T.
func Register[T any](b *Bridge, svc T, props map[string]any) (*framework.ServiceRegistration, error) {
	return b.RegisterService(reflect.TypeFor[T](), svc, props)
}
