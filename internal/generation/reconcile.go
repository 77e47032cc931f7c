package generation

import "github.com/Ad-Bean/airouter-sub000/internal/domain"

// Outcome is the settled result of one provider task. A non-empty Err marks
// the task as failed; a successful task with zero URLs is normalized to a
// failure during reconciliation.
type Outcome struct {
	ImageURLs []string
	Err       string
}

// Failed reports whether the outcome carries an error.
func (o Outcome) Failed() bool { return o.Err != "" }

const errNoImages = "No images generated"

// Reconcile computes the aggregate message status and provider error map from
// the per-provider outcomes. Pure function, no side effects.
//
// completed: every provider succeeded with at least one image.
// partial:   at least one image exists and at least one provider failed.
// failed:    no provider produced an image (including the all-empty case).
func Reconcile(outcomes map[string]Outcome) (domain.MessageStatus, map[string]string) {
	providerErrors := make(map[string]string)
	images := 0
	for provider, outcome := range outcomes {
		switch {
		case outcome.Failed():
			providerErrors[provider] = outcome.Err
		case len(outcome.ImageURLs) == 0:
			providerErrors[provider] = errNoImages
		default:
			images += len(outcome.ImageURLs)
		}
	}
	switch {
	case images > 0 && len(providerErrors) == 0:
		return domain.StatusCompleted, providerErrors
	case images > 0:
		return domain.StatusPartial, providerErrors
	default:
		return domain.StatusFailed, providerErrors
	}
}
