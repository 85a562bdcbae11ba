package negotiate_test

import (
	"errors"
	"testing"

	"ciphera/internal/domain"
	"ciphera/internal/protocol/negotiate"
)

func TestNegotiate_PicksHighestCommonPriority(t *testing.T) {
	n := negotiate.New()
	local := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgMLKEM768, domain.AlgCurve25519}}
	remote := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgCurve25519, domain.AlgMLKEM768, domain.AlgMLKEM1024}}

	res, err := n.Negotiate(domain.ModeStandard, local, remote)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.Chosen != domain.AlgMLKEM768 {
		t.Fatalf("want ML-KEM-768, got %s", res.Chosen)
	}
	if res.FallbackUsed {
		t.Fatal("did not expect fallback")
	}
}

func TestNegotiate_EmptyIntersectionFallsBack(t *testing.T) {
	n := negotiate.New()
	local := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgMLKEM1024}}
	remote := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgP256}}

	res, err := n.Negotiate(domain.ModeStandard, local, remote)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.Chosen != domain.AlgRSA2048OAEP || !res.FallbackUsed {
		t.Fatalf("want fallback to RSA-2048-OAEP, got %+v", res)
	}
}

func TestNegotiate_QuantumOnlyRejectsClassical(t *testing.T) {
	n := negotiate.New()
	local := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgCurve25519}}
	remote := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgCurve25519}}

	_, err := n.Negotiate(domain.ModeQuantumOnly, local, remote)
	if !errors.Is(err, domain.ErrPQUnavailable) {
		t.Fatalf("want ErrPQUnavailable, got %v", err)
	}
}

func TestNegotiate_HybridRequiresExplicitHybridAlgorithm(t *testing.T) {
	n := negotiate.New()
	local := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgMLKEM768}}
	remote := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgMLKEM768}}

	_, err := n.Negotiate(domain.ModeHybrid, local, remote)
	if !errors.Is(err, domain.ErrPQUnavailable) {
		t.Fatalf("want ErrPQUnavailable, got %v", err)
	}

	local.Algorithms = []domain.Algorithm{domain.AlgHybridRSAMLKEM}
	remote.Algorithms = []domain.Algorithm{domain.AlgHybridRSAMLKEM}
	res, err := n.Negotiate(domain.ModeHybrid, local, remote)
	if err != nil {
		t.Fatalf("Negotiate hybrid: %v", err)
	}
	if res.Chosen != domain.AlgHybridRSAMLKEM {
		t.Fatalf("want hybrid algorithm, got %s", res.Chosen)
	}
}
