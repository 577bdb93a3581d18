package clinic

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFactsContext(t *testing.T) {
	cfg := DefaultConfig("clinic-1")
	cfg.Name = "Clínica Boa Saúde"
	cfg.Address = "Rua das Flores, 100"
	cfg.Professionals = []Professional{{Name: "Dra. Ana Lima", Specialty: "Dermatologia"}}
	cfg.InsurancePlans = []string{"Unimed", "Amil"}

	facts := cfg.FactsContext()
	for _, want := range []string{
		"Nome: Clínica Boa Saúde",
		"Endereço: Rua das Flores, 100",
		"- Consulta (R$ 250,00), 30 min",
		"- Dra. Ana Lima (Dermatologia)",
		"Convênios aceitos: Unimed, Amil",
		"Formas de pagamento: PIX",
	} {
		if !strings.Contains(facts, want) {
			t.Fatalf("facts missing %q:\n%s", want, facts)
		}
	}
}

func TestFactsContextWithoutInsurance(t *testing.T) {
	facts := DefaultConfig("clinic-1").FactsContext()
	if !strings.Contains(facts, "apenas atendimento particular") {
		t.Fatalf("expected private-only note, got:\n%s", facts)
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig("clinic-1")
	if cfg.Location().String() != "America/Sao_Paulo" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
	cfg.Timezone = "Not/AZone"
	if cfg.Location().String() != "UTC" {
		t.Fatalf("expected UTC fallback, got %s", cfg.Location())
	}
}

func TestFindService(t *testing.T) {
	cfg := DefaultConfig("clinic-1")
	if svc, ok := cfg.FindService(" consulta "); !ok || svc.DurationMinutes != 30 {
		t.Fatalf("expected consulta, got %+v %v", svc, ok)
	}
	if _, ok := cfg.FindService("botox"); ok {
		t.Fatal("unexpected match")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(client)
	ctx := context.Background()

	cfg, err := store.Get(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if cfg.Name != "Clínica" {
		t.Fatalf("expected default config, got %q", cfg.Name)
	}

	cfg.Name = "Clínica Centro"
	cfg.FAQ = []FAQ{{Question: "Tem estacionamento?", Answer: "Sim, gratuito."}}
	if err := store.Set(ctx, cfg); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if !mr.Exists("clinic:config:clinic-1") {
		t.Fatal("expected config key in redis")
	}

	loaded, err := store.Get(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.Name != "Clínica Centro" || len(loaded.FAQ) != 1 {
		t.Fatalf("unexpected loaded config %+v", loaded)
	}
}

func TestStoreRejectsCorruptPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := mr.Set("clinic:config:clinic-1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := NewStore(client).Get(context.Background(), "clinic-1"); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestStaticSourceCopies(t *testing.T) {
	src := NewStaticSource(DefaultConfig("clinic-1"))
	cfg, _ := src.Get(context.Background(), "clinic-1")
	cfg.Name = "mutated"
	again, _ := src.Get(context.Background(), "clinic-1")
	if again.Name == "mutated" {
		t.Fatal("Get must return a copy")
	}
}
