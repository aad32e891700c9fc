package notify

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/vasiliy-maslov/food-ordering/internal/order"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

const DefaultLocale = "en"

var ErrIncompleteTemplates = errors.New("notification templates are incomplete")

// NotifiableStatuses are the lifecycle statuses that produce a status notification.
func NotifiableStatuses() []order.Status {
	return []order.Status{
		order.StatusPending,
		order.StatusAccepted,
		order.StatusRejected,
		order.StatusPreparing,
		order.StatusReady,
		order.StatusDispatched,
		order.StatusDelivered,
	}
}

type Template struct {
	Title               string `yaml:"title"`
	Body                string `yaml:"body"`
	BodyWithoutEstimate string `yaml:"body_without_estimate,omitempty"`
}

// Templates is one localized set of notification texts. Placeholders are
// {orderId}, {restaurantName} and {estimatedTime}.
type Templates struct {
	Locale             string                    `yaml:"locale"`
	FallbackRestaurant string                    `yaml:"fallback_restaurant"`
	ConfirmationPrompt Template                  `yaml:"confirmation_prompt"`
	ByStatus           map[order.Status]Template `yaml:"templates"`
}

type RenderInput struct {
	OrderID              string
	RestaurantName       string
	EstimatedTimeMinutes *int
}

// LoadLocale returns one of the embedded template sets.
func LoadLocale(locale string) (*Templates, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	data, err := locales.ReadFile("locales/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("notify: unknown locale %q: %w", locale, err)
	}
	return parseTemplates(data)
}

// LoadFile reads a template set from a YAML file.
func LoadFile(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to read templates file %s: %w", path, err)
	}
	return parseTemplates(data)
}

func DefaultTemplates() *Templates {
	t, err := LoadLocale(DefaultLocale)
	if err != nil {
		panic(err)
	}
	return t
}

func parseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("notify: invalid templates: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that every notifiable status has a title and a body.
func (t *Templates) Validate() error {
	var missing []string
	for _, status := range NotifiableStatuses() {
		tpl, ok := t.ByStatus[status]
		if !ok || tpl.Title == "" || tpl.Body == "" {
			missing = append(missing, string(status))
		}
	}
	if t.ConfirmationPrompt.Title == "" || t.ConfirmationPrompt.Body == "" {
		missing = append(missing, "confirmation_prompt")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: locale %q lacks %s", ErrIncompleteTemplates, t.Locale, strings.Join(missing, ", "))
	}
	return nil
}

// Render fills the template for status. It reports false for statuses that
// do not notify.
func (t *Templates) Render(status order.Status, in RenderInput) (title, body string, ok bool) {
	if !slices.Contains(NotifiableStatuses(), status) {
		return "", "", false
	}
	tpl, ok := t.ByStatus[status]
	if !ok {
		return "", "", false
	}

	body = tpl.Body
	if in.EstimatedTimeMinutes == nil && tpl.BodyWithoutEstimate != "" && strings.Contains(body, "{estimatedTime}") {
		body = tpl.BodyWithoutEstimate
	}

	r := t.replacer(in)
	return r.Replace(tpl.Title), r.Replace(body), true
}

func (t *Templates) RenderPrompt(in RenderInput) (title, body string) {
	r := t.replacer(in)
	return r.Replace(t.ConfirmationPrompt.Title), r.Replace(t.ConfirmationPrompt.Body)
}

func (t *Templates) replacer(in RenderInput) *strings.Replacer {
	restaurant := in.RestaurantName
	if restaurant == "" {
		restaurant = t.FallbackRestaurant
	}
	estimate := ""
	if in.EstimatedTimeMinutes != nil {
		estimate = strconv.Itoa(*in.EstimatedTimeMinutes)
	}
	return strings.NewReplacer(
		"{orderId}", order.ShortID(in.OrderID),
		"{restaurantName}", restaurant,
		"{estimatedTime}", estimate,
	)
}
