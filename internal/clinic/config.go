// Package clinic provides clinic metadata served to the assistant: services, professionals,
// insurance plans, payment methods, FAQ and opening-hours text.
package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Service is one bookable procedure.
type Service struct {
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Price           string `json:"price,omitempty"` // display text, e.g. "R$ 250,00"
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// Professional is a practitioner working at the clinic.
type Professional struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
	Registry  string `json:"registry,omitempty"` // council registration, e.g. "CRM 12345"
}

// FAQ is a canned question/answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Config holds clinic-specific metadata.
type Config struct {
	ClinicID       string         `json:"clinic_id"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone,omitempty"`
	Address        string         `json:"address,omitempty"`
	Timezone       string         `json:"timezone"` // e.g. "America/Sao_Paulo"
	Currency       string         `json:"currency"` // ISO 4217, e.g. "BRL"
	OpeningHours   []string       `json:"opening_hours,omitempty"`
	Services       []Service      `json:"services,omitempty"`
	Professionals  []Professional `json:"professionals,omitempty"`
	InsurancePlans []string       `json:"insurance_plans,omitempty"`
	PaymentMethods []string       `json:"payment_methods,omitempty"`
	FAQ            []FAQ          `json:"faq,omitempty"`
	// AssistantName is how the assistant introduces itself.
	AssistantName string `json:"assistant_name,omitempty"`
}

// DefaultConfig returns a generic clinic used until an operator saves one.
func DefaultConfig(clinicID string) *Config {
	return &Config{
		ClinicID:      clinicID,
		Name:          "Clínica",
		Timezone:      "America/Sao_Paulo",
		Currency:      "BRL",
		AssistantName: "Assistente",
		OpeningHours: []string{
			"Segunda a sexta: 08:00 às 12:00 e 14:00 às 18:00",
			"Sábado: 08:00 às 12:00",
			"Domingo e feriados: fechado",
		},
		Services: []Service{
			{Name: "Consulta", Description: "Consulta clínica geral", Price: "R$ 250,00", DurationMinutes: 30},
			{Name: "Retorno", Description: "Retorno em até 30 dias", Price: "Sem custo", DurationMinutes: 30},
		},
		PaymentMethods: []string{"PIX", "cartão de crédito", "cartão de débito", "dinheiro"},
	}
}

// Location resolves the clinic timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FindService returns the service whose name matches (case-insensitive).
func (c *Config) FindService(name string) (Service, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if c == nil || needle == "" {
		return Service{}, false
	}
	for _, svc := range c.Services {
		if strings.ToLower(svc.Name) == needle {
			return svc, true
		}
	}
	return Service{}, false
}

// FactsContext renders the clinic facts block placed in the model's instructions.
func (c *Config) FactsContext() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DADOS DA CLÍNICA\nNome: %s\n", c.Name)
	if c.Address != "" {
		fmt.Fprintf(&b, "Endereço: %s\n", c.Address)
	}
	if c.Phone != "" {
		fmt.Fprintf(&b, "Telefone: %s\n", c.Phone)
	}
	if len(c.OpeningHours) > 0 {
		b.WriteString("Horário de funcionamento:\n")
		for _, line := range c.OpeningHours {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	if len(c.Services) > 0 {
		b.WriteString("Serviços:\n")
		for _, svc := range c.Services {
			line := "- " + svc.Name
			if svc.Price != "" {
				line += " (" + svc.Price + ")"
			}
			if svc.DurationMinutes > 0 {
				line += fmt.Sprintf(", %d min", svc.DurationMinutes)
			}
			b.WriteString(line + "\n")
		}
	}
	if len(c.Professionals) > 0 {
		b.WriteString("Profissionais:\n")
		for _, p := range c.Professionals {
			if p.Specialty != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", p.Name, p.Specialty)
			} else {
				fmt.Fprintf(&b, "- %s\n", p.Name)
			}
		}
	}
	if len(c.InsurancePlans) > 0 {
		fmt.Fprintf(&b, "Convênios aceitos: %s\n", strings.Join(c.InsurancePlans, ", "))
	} else {
		b.WriteString("Convênios aceitos: nenhum, apenas atendimento particular\n")
	}
	if len(c.PaymentMethods) > 0 {
		fmt.Fprintf(&b, "Formas de pagamento: %s\n", strings.Join(c.PaymentMethods, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Source loads and saves clinic config.
type Source interface {
	Get(ctx context.Context, clinicID string) (*Config, error)
	Set(ctx context.Context, cfg *Config) error
}

// Store persists clinic config in Redis.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new clinic config store.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("clinic: redis client required")
	}
	return &Store{redis: redisClient}
}

func (s *Store) key(clinicID string) string {
	return fmt.Sprintf("clinic:config:%s", clinicID)
}

// Get retrieves clinic config, returning default if not found.
func (s *Store) Get(ctx context.Context, clinicID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(clinicID)).Bytes()
	if err == redis.Nil {
		return DefaultConfig(clinicID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set saves clinic config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if cfg == nil || strings.TrimSpace(cfg.ClinicID) == "" {
		return fmt.Errorf("clinic: config requires a clinic id")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.ClinicID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}

// StaticSource serves one in-memory config, used when Redis is not configured.
type StaticSource struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewStaticSource(cfg *Config) *StaticSource {
	if cfg == nil {
		panic("clinic: config required")
	}
	return &StaticSource{cfg: cfg}
}

func (s *StaticSource) Get(_ context.Context, _ string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := *s.cfg
	return &copied, nil
}

func (s *StaticSource) Set(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("clinic: config required")
	}
	copied := *cfg
	s.mu.Lock()
	s.cfg = &copied
	s.mu.Unlock()
	return nil
}
