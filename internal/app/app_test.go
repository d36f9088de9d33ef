package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bikefleet-backend/internal/config"
	"bikefleet-backend/internal/domain"
)

const memoryYAML = `
server:
  port: 8080
database:
  driver: memory
jwt:
  secret: 0123456789abcdef0123456789abcdef
billing:
  booking_cost: "1000.00"
`

func TestSettingsFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(memoryYAML))
	require.NoError(t, err)

	settings, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(100000), settings.BookingCost)
	assert.Equal(t, domain.Money(100), settings.SaveCardAmount)
	assert.Equal(t, 7, settings.DefaultRentalDays)

	cfg.Billing.BookingCost = "ten"
	_, err = SettingsFromConfig(cfg)
	assert.ErrorContains(t, err, "booking_cost")
}

func TestBuildMemory(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Parse([]byte(memoryYAML))
	require.NoError(t, err)

	a, err := Build(ctx, cfg)
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NoError(t, a.Ready(ctx))
	balance, _, err := a.Payments.GetBalance(ctx, "demo-client")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), balance)

	token, err := a.Tokens.GenerateClientToken("demo-client")
	require.NoError(t, err)
	claims, err := a.Tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "demo-client", claims.ClientID())
}
