package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/openidconnect/internal/security/secretbox"
	"github.com/dropDatabas3/openidconnect/internal/util/atomicwrite"
)

// seal no necesita la config completa: solo la key.
func newSealCmd(_ *globalFlags) *cobra.Command {
	var (
		key     string
		keyFile string
		genKey  bool
		open    bool
	)
	cmd := &cobra.Command{
		Use:   "seal [value]",
		Short: "Sella un client_secret para la config (lee stdin si no hay argumento)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if genKey {
				k, err := secretbox.GenerateKey()
				if err != nil {
					return err
				}
				if keyFile == "" {
					fmt.Fprintln(out, k)
					return nil
				}
				if err := atomicwrite.WriteFile(keyFile, []byte(k+"\n"), atomicwrite.Options{NoClobber: true}); err != nil {
					return err
				}
				fmt.Fprintln(out, "key written to", keyFile)
				return nil
			}

			if key == "" && keyFile != "" {
				b, err := os.ReadFile(keyFile)
				if err != nil {
					return err
				}
				key = strings.TrimSpace(string(b))
			}
			if key == "" {
				key = os.Getenv("SECURITY_SECRETBOX_KEY")
			}
			if key == "" {
				return errors.New("falta la key (flag --key o env SECURITY_SECRETBOX_KEY); generá una con --gen-key")
			}
			box, err := secretbox.New(key)
			if err != nil {
				return err
			}

			value, err := readValue(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			var res string
			if open {
				res, err = box.Open(value)
			} else {
				res, err = box.Seal(value)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Key del secretbox, base64 o hex de 32 bytes")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Archivo con la key; con --gen-key se crea (nunca se pisa)")
	cmd.Flags().BoolVar(&genKey, "gen-key", false, "Genera una key nueva y sale")
	cmd.Flags().BoolVar(&open, "open", false, "Abre un valor sellado en vez de sellar")
	return cmd
}

func readValue(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("valor vacío")
	}
	return line, nil
}
