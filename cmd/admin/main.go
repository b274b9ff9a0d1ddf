package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"auth-starter/internal/config"
	"auth-starter/internal/db"
	"auth-starter/internal/domain"
	"auth-starter/internal/repository"
	"auth-starter/internal/service"
)

const usage = `usage: admin <command> [flags]

commands:
  create      crear un usuario
  activate    activar un usuario por email
  deactivate  desactivar un usuario por email
  list        listar usuarios
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal(err)
	}

	users := repository.NewPgUserRepository(pool)

	switch os.Args[1] {
	case "create":
		err = runCreate(ctx, cfg, users, os.Args[2:])
	case "activate":
		err = runSetActive(ctx, users, os.Args[2:], true)
	case "deactivate":
		err = runSetActive(ctx, users, os.Args[2:], false)
	case "list":
		err = runList(ctx, users)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runCreate(ctx context.Context, cfg *config.Config, users repository.UserRepository, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	email := fs.String("email", "", "email del usuario")
	password := fs.String("password", "", "contraseña en claro")
	firstName := fs.String("first-name", "", "nombre")
	lastName := fs.String("last-name", "", "apellido")
	verified := fs.Bool("verify", true, "marcar verificado")
	superuser := fs.Bool("superuser", false, "marcar superusuario")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("email y password son obligatorios")
	}

	hasher := service.NewBcryptHasher(cfg.BcryptCost)
	hash, err := hasher.Hash(*password)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(*email)),
		FirstName:    *firstName,
		LastName:     *lastName,
		PasswordHash: hash,
		Active:       true,
		Verified:     *verified,
		Superuser:    *superuser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		return err
	}
	fmt.Printf("usuario creado: %s (%s)\n", user.Email, user.ID)
	return nil
}

func runSetActive(ctx context.Context, users repository.UserRepository, args []string, active bool) error {
	fs := flag.NewFlagSet("set-active", flag.ExitOnError)
	email := fs.String("email", "", "email del usuario")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("email es obligatorio")
	}

	user, err := users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(*email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("usuario no encontrado: %s", *email)
		}
		return err
	}
	if err := users.SetActive(ctx, user.ID, active, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Printf("usuario %s: active=%v\n", user.Email, active)
	return nil
}

func runList(ctx context.Context, users repository.UserRepository) error {
	all, err := users.List(ctx)
	if err != nil {
		return err
	}
	for _, u := range all {
		fmt.Printf("%s\t%s\tactive=%v verified=%v superuser=%v\n",
			u.ID, u.Email, u.Active, u.Verified, u.Superuser)
	}
	fmt.Printf("%d usuarios\n", len(all))
	return nil
}
