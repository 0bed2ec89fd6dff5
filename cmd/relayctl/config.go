package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/ra"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigShowCommand(root))
	return cmd
}

func newConfigShowCommand(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the configuration and the resulting factory properties",
		Long: `Show the flattened configuration keys and the managed connection
factory properties they produce.  Passwords are masked.

Example:
  relayctl config show --config relay.yml
  relayctl config show --config relay.yml --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, root, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text or yaml)")
	return cmd
}

func runConfigShow(cmd *cobra.Command, root *rootOptions, output string) error {
	conf, err := root.loadConfig()
	if err != nil {
		return err
	}

	props, err := ra.PropertiesFromConfig(conf)
	if err != nil {
		return err
	}

	keys := conf.Keys()
	sort.Strings(keys)

	values := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, _ := conf.Get(k)
		values[k] = mask(k, v)
	}

	w := cmd.OutOrStdout()
	switch output {
	default:
		return errors.Errorf("Invalid output [%v]: must be text or yaml", output)
	case "yaml":
		raw, err := yaml.Marshal(values)
		if err != nil {
			return err
		}
		_, err = w.Write(raw)
		return err
	case "text":
		for _, k := range keys {
			fmt.Fprintf(w, "%v: %v\n", k, values[k])
		}
		fmt.Fprintf(w, "\nfactory: session=%v user=%q client=%q strict=%v trylock=%vs provider=%q\n",
			props.SessionDefaultType, props.UserName, props.ClientID, props.Strict, props.UseTryLock, providerName(props))
		return nil
	}
}

func mask(key string, v interface{}) interface{} {
	if strings.Contains(strings.ToLower(key), "password") {
		return "********"
	}
	return v
}

func providerName(props ra.Properties) string {
	if props.Provider == "" {
		return providerAMQP
	}
	return props.Provider
}
