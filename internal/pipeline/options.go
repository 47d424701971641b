package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Options is the explicit configuration of one pipeline run.
type Options struct {
	MaxWorkers  int `validate:"gte=1,lte=256"`
	MaxAttempts int `validate:"gte=1,lte=20"`

	RetryBaseDelay time.Duration `validate:"gte=0"`
	RetryMaxDelay  time.Duration `validate:"gte=0"`
	// RetryJitter is the fraction of the backoff delay added at random.
	RetryJitter float64 `validate:"gte=0,lte=1"`

	ShutdownDrainDeadline time.Duration `validate:"gt=0"`

	MaxWriteAttempts int           `validate:"gte=1,lte=10"`
	WriteRetryDelay  time.Duration `validate:"gte=0"`
	// WriteTimeout bounds a single source write attempt. Zero leaves writes
	// bounded only by the drain deadline.
	WriteTimeout time.Duration `validate:"gte=0"`

	// PromptTemplate overrides the model's default prompt. Empty uses the default.
	PromptTemplate string

	// WriteFailures writes "ERROR: <kind>" into the cell of failed rows.
	WriteFailures bool
}

func DefaultOptions() Options {
	return Options{
		MaxWorkers:            4,
		MaxAttempts:           3,
		RetryBaseDelay:        2 * time.Second,
		RetryMaxDelay:         30 * time.Second,
		ShutdownDrainDeadline: 60 * time.Second,
		MaxWriteAttempts:      3,
		WriteRetryDelay:       500 * time.Millisecond,
		WriteTimeout:          30 * time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("invalid pipeline options: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid pipeline options: %w", err)
	}
	if o.RetryMaxDelay > 0 && o.RetryMaxDelay < o.RetryBaseDelay {
		return fmt.Errorf("invalid pipeline options: RetryMaxDelay (%s) is below RetryBaseDelay (%s)", o.RetryMaxDelay, o.RetryBaseDelay)
	}
	return nil
}

func (o Options) backoff() Backoff {
	return Backoff{Base: o.RetryBaseDelay, Max: o.RetryMaxDelay, Jitter: o.RetryJitter}
}
