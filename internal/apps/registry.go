package apps

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Application identifiers. The set of installable modules is fixed at build
// time; an installation row may only reference one of these.
const (
	TodoAppID      = "todo"
	CalendarAppID  = "calendar"
	KodixCareAppID = "kodixCare"
)

// MarketplacePath is the default landing page when an app gate fails.
const MarketplacePath = "/apps"

var (
	errNilApp       = errors.New("apps: nil definition")
	errEmptyAppID   = errors.New("apps: id is required")
	errDuplicateApp = errors.New("apps: already registered")
)

// App models catalog metadata for an installable application module.
type App struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	// DefaultPath is where a successful gate sends the user inside the app.
	DefaultPath string `json:"default_path"`
	SortOrder   int    `json:"sort_order"`
}

// Registry manages the catalogue of installable applications.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*App
}

// NewRegistry constructs an empty application registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]*App)}
}

// Register adds an application definition into the registry.
func (r *Registry) Register(app *App) error {
	if app == nil {
		return errNilApp
	}
	id := strings.TrimSpace(app.ID)
	if id == "" {
		return errEmptyAppID
	}

	clone := *app
	clone.ID = id
	clone.Name = strings.TrimSpace(clone.Name)
	clone.DefaultPath = strings.TrimSpace(clone.DefaultPath)
	if clone.DefaultPath == "" {
		clone.DefaultPath = "/" + id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apps[id]; exists {
		return fmt.Errorf("%w: %s", errDuplicateApp, id)
	}
	r.apps[id] = &clone
	return nil
}

// MustRegister wraps Register and panics on error for init-time declarations.
func (r *Registry) MustRegister(app *App) {
	if err := r.Register(app); err != nil {
		panic(err)
	}
}

// Get fetches an application definition copy.
func (r *Registry) Get(id string) (*App, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	clone := *app
	return &clone, true
}

// Valid reports whether the id names a registered application.
func (r *Registry) Valid(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// GetAll returns application definitions sorted by SortOrder then ID.
func (r *Registry) GetAll() []*App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*App, 0, len(r.apps))
	for _, app := range r.apps {
		clone := *app
		list = append(list, &clone)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SortOrder == list[j].SortOrder {
			return list[i].ID < list[j].ID
		}
		return list[i].SortOrder < list[j].SortOrder
	})
	return list
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.MustRegister(&App{
		ID:          TodoAppID,
		Name:        "Todo",
		Description: "Shared task lists for the team",
		Icon:        "check-square",
		DefaultPath: "/apps/todo",
		SortOrder:   10,
	})
	defaultRegistry.MustRegister(&App{
		ID:          CalendarAppID,
		Name:        "Calendar",
		Description: "Team calendar and scheduling",
		Icon:        "calendar",
		DefaultPath: "/apps/calendar",
		SortOrder:   20,
	})
	defaultRegistry.MustRegister(&App{
		ID:          KodixCareAppID,
		Name:        "Kodix Care",
		Description: "Care shift management for caregiver teams",
		Icon:        "heart-pulse",
		DefaultPath: "/apps/kodixCare",
		SortOrder:   30,
	})
}

// Default returns the process-wide registry holding the built-in applications.
func Default() *Registry {
	return defaultRegistry
}
