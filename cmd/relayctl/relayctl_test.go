package main

import (
	"bytes"
	"testing"

	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/local"
	"github.com/pkopriv2/relay/ra"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
relay:
  log:
    level: 0
  mcf:
    provider: local
    password: secret
  pool:
    max: 5
`

func newTestOptions(t *testing.T) *rootOptions {
	ctx := common.NewEmptyContext()
	t.Cleanup(func() { ctx.Close() })

	broker, err := local.NewBroker(ctx)
	require.Nil(t, err)

	fs := afero.NewMemMapFs()
	require.Nil(t, afero.WriteFile(fs, "/relay.yml", []byte(testConfig), 0644))

	return &rootOptions{
		fs: fs,
		provider: func(common.Context, ra.Properties) (jms.ConnectionFactory, error) {
			return local.NewConnectionFactory(broker).Plain(), nil
		},
	}
}

func execute(opts *rootOptions, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSendReceive(t *testing.T) {
	opts := newTestOptions(t)

	out, err := execute(opts, "send", "--config", "/relay.yml", "--queue", "orders", "--text", "hello", "--property", "region=eu")
	require.Nil(t, err)
	assert.Contains(t, out, "Sent ID:")
	assert.Contains(t, out, "Queue(orders)")

	out, err = execute(opts, "receive", "--config", "/relay.yml", "--queue", "orders", "--timeout", "1s", "-v")
	require.Nil(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "# region=eu")
	assert.Contains(t, out, "TextMessage")
}

func TestReceive_Selector(t *testing.T) {
	opts := newTestOptions(t)

	_, err := execute(opts, "send", "-c", "/relay.yml", "-q", "orders", "--text", "us", "-p", "region=us")
	require.Nil(t, err)
	_, err = execute(opts, "send", "-c", "/relay.yml", "-q", "orders", "--text", "eu", "-p", "region=eu")
	require.Nil(t, err)

	out, err := execute(opts, "receive", "-c", "/relay.yml", "-q", "orders", "-s", "region = 'eu'", "-n", "2", "--timeout", "100ms")
	require.Nil(t, err)
	assert.Equal(t, "eu\n", out)
}

func TestReceive_Timeout(t *testing.T) {
	opts := newTestOptions(t)

	_, err := execute(opts, "receive", "-c", "/relay.yml", "-q", "empty", "--timeout", "50ms")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "No message received")
}

func TestDestinationFlags(t *testing.T) {
	opts := newTestOptions(t)

	_, err := execute(opts, "send", "-c", "/relay.yml", "--text", "x")
	assert.NotNil(t, err)

	_, err = execute(opts, "send", "-c", "/relay.yml", "-q", "a", "-t", "b", "--text", "x")
	assert.NotNil(t, err)
}

func TestConfigShow(t *testing.T) {
	opts := newTestOptions(t)

	out, err := execute(opts, "config", "show", "-c", "/relay.yml")
	require.Nil(t, err)
	assert.Contains(t, out, "relay.pool.max: 5")
	assert.Contains(t, out, "relay.mcf.password: ********")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, `provider="local"`)

	out, err = execute(opts, "config", "show", "-c", "/relay.yml", "-o", "yaml")
	require.Nil(t, err)
	assert.Contains(t, out, "relay.pool.max: 5")

	_, err = execute(opts, "config", "show", "-c", "/relay.yml", "-o", "json")
	assert.NotNil(t, err)
}

func TestConfig_Missing(t *testing.T) {
	opts := newTestOptions(t)

	_, err := execute(opts, "config", "show", "-c", "/missing.yml")
	assert.NotNil(t, err)
}

func TestNewProvider_Unknown(t *testing.T) {
	ctx := common.NewEmptyContext()
	defer ctx.Close()

	_, err := newProvider(ctx, ra.Properties{Provider: "carrier-pigeon"})
	assert.NotNil(t, err)

	f, err := newProvider(ctx, ra.Properties{})
	require.Nil(t, err)
	assert.NotNil(t, f)
}
