package configuration

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/G-Research/fluxbench/internal/fluxbench/fluxerrors"
)

// Validate checks field constraints first, then the relationships between fields.
// Field failures are returned as validator.ValidationErrors so they can be logged field by field.
func (c FluxbenchConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Publisher.Weight+c.Subscriber.Weight <= 0 {
		return errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "publisher.weight",
			Value:   c.Publisher.Weight,
			Message: "publisher and subscriber weights must not both be zero",
		})
	}
	if c.Publisher.MaxWait < c.Publisher.MinWait {
		return errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "publisher.maxWait",
			Value:   c.Publisher.MaxWait,
			Message: "must not be less than publisher.minWait",
		})
	}
	if c.Subscriber.MaxWait < c.Subscriber.MinWait {
		return errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "subscriber.maxWait",
			Value:   c.Subscriber.MaxWait,
			Message: "must not be less than subscriber.minWait",
		})
	}
	reconnect := c.Subscriber.Reconnect
	if reconnect.MaxDelay > 0 && reconnect.MaxDelay < reconnect.Delay {
		return errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "subscriber.reconnect.maxDelay",
			Value:   reconnect.MaxDelay,
			Message: "must not be less than subscriber.reconnect.delay",
		})
	}
	return nil
}
