// Command haexvaultd is a thin CLI exercising the vault lifecycle end to
// end: create, open, run SQL, and install an extension. It is grounded
// on the teacher's cmd/vaultd/main.go subcommand dispatch (flag.FlagSet
// per subcommand, os.Args[1] switch, term.ReadPassword for interactive
// secrets).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/haexhub/haexvault/internal/apperr"
	"github.com/haexhub/haexvault/internal/appstate"
	"github.com/haexhub/haexvault/internal/extension"
	"github.com/haexhub/haexvault/internal/sqlexec"
	"github.com/haexhub/haexvault/internal/vault"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "create":
		cmdCreate(args)
	case "list":
		cmdList(args)
	case "query":
		cmdQuery(args)
	case "ext-install":
		cmdExtInstall(args)
	case "ext-list":
		cmdExtList(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`haexvaultd - local-first encrypted CRDT document store

Usage: haexvaultd <command> [options]

Commands:
  create        Create a new encrypted vault (--data, --name)
  list          List known vaults (--data)
  query         Run a SQL statement against a vault (--data, --id, --sql)
  ext-install   Install an extension bundle (--data, --id, --bundle)
  ext-list      List installed extensions (--data, --id)
  help          Show this help`)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".haexvault"
	}
	return filepath.Join(home, ".haexvault")
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir(), "vault storage directory")
	name := fs.String("name", "", "vault name")
	templatePath := fs.String("template", "", "plaintext SQLite template to encrypt (empty database if unset)")
	fs.Parse(args)

	if *name == "" {
		log.Fatal("create: --name is required")
	}

	mgr, err := vault.NewManager(*dataDir)
	if err != nil {
		log.Fatalf("create: %v", err)
	}

	fmt.Print("Enter new vault password: ")
	pass1, err := readPassword()
	if err != nil {
		log.Fatalf("\ncreate: reading password: %v", err)
	}
	fmt.Print("\nConfirm password: ")
	pass2, err := readPassword()
	if err != nil {
		log.Fatalf("\ncreate: reading password: %v", err)
	}
	fmt.Println()

	if string(pass1) != string(pass2) {
		log.Fatal("create: passwords do not match")
	}

	info, err := mgr.CreateEncrypted(*name, pass1, *templatePath)
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	fmt.Printf("vault created: id=%s path=%s\n", info.ID, info.Path)
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir(), "vault storage directory")
	fs.Parse(args)

	mgr, err := vault.NewManager(*dataDir)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	vaults, err := mgr.ListVaults()
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	for _, v := range vaults {
		fmt.Printf("%s\t%s\t%s\n", v.ID, v.Name, v.Path)
	}
}

func cmdQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir(), "vault storage directory")
	id := fs.String("id", "", "vault id")
	sqlText := fs.String("sql", "", "SQL statement to execute")
	fs.Parse(args)

	if *id == "" || *sqlText == "" {
		log.Fatal("query: --id and --sql are required")
	}

	st, err := openState(*dataDir, *id)
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	defer st.Close()

	rows, err := st.Executor().Execute(*sqlText, nil)
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	out, err := sqlexec.MarshalRows(rows)
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	fmt.Println(string(out))
}

func cmdExtInstall(args []string) {
	fs := flag.NewFlagSet("ext-install", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir(), "vault storage directory")
	id := fs.String("id", "", "vault id to install into")
	bundlePath := fs.String("bundle", "", "extension bundle zip path")
	fs.Parse(args)

	if *id == "" || *bundlePath == "" {
		log.Fatal("ext-install: --id and --bundle are required")
	}

	st, err := openState(*dataDir, *id)
	if err != nil {
		log.Fatalf("ext-install: %v", err)
	}
	defer st.Close()

	mgr := st.Extensions()
	preview, err := mgr.Preview(*bundlePath)
	if err != nil {
		log.Fatalf("ext-install: preview: %v", err)
	}
	fmt.Printf("installing %q (%s), requesting %d permission(s)\n", preview.Manifest.Name, preview.Manifest.Version, len(preview.Requested))

	ext, err := mgr.Install(*bundlePath, nil)
	if err != nil {
		log.Fatalf("ext-install: %v", err)
	}
	fmt.Printf("installed: id=%s path=%s\n", ext.ID, ext.Path)
}

func cmdExtList(args []string) {
	fs := flag.NewFlagSet("ext-list", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir(), "vault storage directory")
	id := fs.String("id", "", "vault id to list extensions from")
	fs.Parse(args)

	if *id == "" {
		log.Fatal("ext-list: --id is required")
	}

	st, err := openState(*dataDir, *id)
	if err != nil {
		log.Fatalf("ext-list: %v", err)
	}
	defer st.Close()

	mgr := st.Extensions()
	if err := mgr.LoadInstalled(); err != nil {
		log.Fatalf("ext-list: %v", err)
	}
	for _, ext := range mgr.List() {
		fmt.Printf("%s\t%s\t%s\n", ext.ID, ext.Manifest.Name, ext.Manifest.Version)
	}
	if missing := mgr.Missing(); len(missing) > 0 {
		data, _ := json.Marshal(missing)
		fmt.Fprintf(os.Stderr, "missing extensions: %s\n", data)
	}
}

func openState(dataDir, id string) (*appstate.State, error) {
	mgr, err := vault.NewManager(dataDir)
	if err != nil {
		return nil, err
	}
	vaults, err := mgr.ListVaults()
	if err != nil {
		return nil, err
	}
	var path string
	for _, v := range vaults {
		if v.ID == id {
			path = v.Path
			break
		}
	}
	if path == "" {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionNotFound, Reason: "vault " + id + " not found"}
	}

	fmt.Print("Enter vault password: ")
	pass, err := readPassword()
	fmt.Println()
	if err != nil {
		return nil, err
	}

	session, err := mgr.Open(path, pass, id)
	if err != nil {
		return nil, err
	}

	executor := sqlexec.New(session.DB, session.HLC)
	extMgr := extension.NewManager(filepath.Join(dataDir, "extensions"), executor)
	if err := extMgr.LoadInstalled(); err != nil {
		return nil, err
	}

	return appstate.New(session.DB, session.HLC, extMgr, session.Path), nil
}

func readPassword() ([]byte, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		var password string
		fmt.Scanln(&password)
		return []byte(password), nil
	}
	return term.ReadPassword(fd)
}
