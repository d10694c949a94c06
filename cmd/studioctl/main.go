// Command studioctl is the operator shell of the studio back office.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/atinyakov/grillzstudio/internal/client"
	"github.com/atinyakov/grillzstudio/internal/db"
	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/repository"
	"github.com/atinyakov/grillzstudio/internal/service"
)

// defaultAdminEmail matches the server's default admin address.
const defaultAdminEmail = "admin@grillz.com"

var (
	version   string
	buildDate string
)

const helpText = `Available commands:
  tickets                         list quote tickets
  approve <email>                 approve a pending ticket
  decline <email>                 decline a pending ticket
  orders                          list orders
  stage <email> <0-6>             move an order to a stage
  delete <email>                  delete an order
  upload <email> <variant> <file> upload a custom design
  reset <email>                   force a password reset
  reconcile                       check tickets and orders agree
  exit`

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// repl runs the interactive shell loop over the admin API.
func repl(ctx context.Context, c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("studio> ")
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if err := run(ctx, c, args); err != nil {
			if errors.Is(err, errExit) {
				fmt.Println("Bye")
				return
			}
			fmt.Println("Error:", err)
		}
	}
}

var errExit = errors.New("exit")

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func run(ctx context.Context, c *client.Client, args []string) error {
	switch args[0] {
	case "help":
		fmt.Println(helpText)
	case "tickets":
		tickets, err := c.Tickets(ctx)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			fmt.Printf("%-32s %-9s %-8s %s\n", t.Email, t.Status, t.MaterialID, t.CreatedAt.Format("2006-01-02"))
		}
	case "approve":
		if err := need(args, 2, "approve <email>"); err != nil {
			return err
		}
		o, err := c.Approve(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Order created for %s (%s)\n", o.Email, o.ModelType)
	case "decline":
		if err := need(args, 2, "decline <email>"); err != nil {
			return err
		}
		if err := c.Decline(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("Ticket declined")
	case "orders":
		orders, err := c.Orders(ctx)
		if err != nil {
			return err
		}
		for _, o := range orders {
			reset := ""
			if o.NeedsPasswordChange {
				reset = " [reset pending]"
			}
			fmt.Printf("%-32s %d %s%s\n", o.Email, o.Stage, o.StageLabel(), reset)
		}
	case "stage":
		if err := need(args, 3, "stage <email> <0-6>"); err != nil {
			return err
		}
		stage, err := strconv.Atoi(args[2])
		if err != nil || !models.ValidStage(stage) {
			return fmt.Errorf("stage must be 0-%d", len(models.Stages)-1)
		}
		o, err := c.SetStage(ctx, args[1], stage)
		if err != nil {
			return err
		}
		fmt.Printf("%s is now at %q\n", o.Email, o.StageLabel())
	case "delete":
		if err := need(args, 2, "delete <email>"); err != nil {
			return err
		}
		if err := c.DeleteOrder(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("Order deleted, ticket back to pending")
	case "upload":
		if err := need(args, 4, "upload <email> <variant> <file>"); err != nil {
			return err
		}
		ref, err := c.UploadDesign(ctx, args[1], args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Println("Uploaded:", ref.URL)
	case "reset":
		if err := need(args, 2, "reset <email>"); err != nil {
			return err
		}
		if err := c.TriggerReset(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("Password reset required on next visit")
	case "reconcile":
		report, err := c.Reconcile(ctx)
		if err != nil {
			return err
		}
		if report.Consistent() {
			fmt.Printf("OK: %d tickets, %d orders\n", report.Tickets, report.Orders)
			return nil
		}
		printJSON(report.Issues)
	case "exit":
		return errExit
	default:
		fmt.Println("Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

// createAdmin sets the admin password directly in the database.
func createAdmin(ctx context.Context, dsn, email, password string) error {
	conn, err := db.InitPostgres(dsn)
	if err != nil {
		return err
	}
	defer conn.Close()

	identity := service.NewIdentityService(repository.NewPostgresAuthRepository(conn), nil, service.IdentityConfig{AdminEmail: email}, nil)
	p, err := identity.SetPassword(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("Admin %s ready (role %s)\n", p.Email, p.Role)
	return nil
}

func prompt(label string) string {
	fmt.Print(label)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

// main parses command-line flags and dispatches to the shell or create-admin commands.
func main() {
	var (
		cmd        string
		baseURL    string
		caFile     string
		identifier string
		password   string
		dsn        string
		adminEmail string
		showVer    bool
	)

	flag.StringVar(&cmd, "cmd", "shell", "command: shell | create-admin")
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&caFile, "ca", "", "path to CA cert for HTTPS")
	flag.StringVar(&identifier, "login", "admin", "email or admin identifier")
	flag.StringVar(&password, "password", "", "password (prompted when empty)")
	flag.StringVar(&dsn, "d", os.Getenv("DATABASE_DSN"), "db address for create-admin")
	flag.StringVar(&adminEmail, "admin-email", defaultAdminEmail, "admin email for create-admin")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("studioctl\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	ctx := context.Background()
	if password == "" {
		password = prompt("Password: ")
	}

	switch cmd {
	case "create-admin":
		if dsn == "" {
			log.Fatal("please provide -d=<dsn> or DATABASE_DSN")
		}
		if err := createAdmin(ctx, dsn, adminEmail, password); err != nil {
			log.Fatal(err)
		}
	case "shell":
		c, err := client.New(baseURL, caFile)
		if err != nil {
			log.Fatal(err)
		}
		p, err := c.Login(ctx, identifier, password)
		if err != nil {
			log.Fatal(err)
		}
		if !p.IsAdmin() {
			log.Fatalf("%s is not the studio admin", p.Email)
		}
		fmt.Printf("Signed in as %s. Type 'help' for commands.\n", p.Email)
		repl(ctx, c)
	default:
		log.Fatalf("unknown command: %s", cmd)
	}
}
