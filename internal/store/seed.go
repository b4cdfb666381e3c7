package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/shared"
)

//go:embed seed.yaml
var seedYAML []byte

// sampleOrderLines is how many catalog rows go into each demo user's order.
const sampleOrderLines = 4

type seedData struct {
	Categories []struct {
		Name     string `yaml:"name"`
		Products []struct {
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
			SKU         string `yaml:"sku"`
			PriceCents  int64  `yaml:"price_cents"`
			Stock       int64  `yaml:"stock"`
			Variants    []struct {
				Name            string `yaml:"name"`
				PriceDeltaCents int64  `yaml:"price_delta_cents"`
				SKU             string `yaml:"sku"`
				Stock           int64  `yaml:"stock"`
			} `yaml:"variants"`
		} `yaml:"products"`
	} `yaml:"categories"`
	Users []struct {
		Username  string `yaml:"username"`
		Email     string `yaml:"email"`
		FullName  string `yaml:"full_name"`
		Role      string `yaml:"role"`
		Password  string `yaml:"password"`
		CardLast4 string `yaml:"card_last4"`
		Address   struct {
			Line1      string `yaml:"line1"`
			Line2      string `yaml:"line2"`
			City       string `yaml:"city"`
			State      string `yaml:"state"`
			PostalCode string `yaml:"postal_code"`
			Country    string `yaml:"country"`
		} `yaml:"address"`
	} `yaml:"users"`
	Documents []struct {
		Title   string `yaml:"title"`
		Content string `yaml:"content"`
	} `yaml:"documents"`
}

func loadSeedData() (*seedData, error) {
	var data seedData
	if err := yaml.Unmarshal(seedYAML, &data); err != nil {
		return nil, fmt.Errorf("decode seed data: %w", err)
	}
	return &data, nil
}

// seedTables lists tables in the order they are wiped.
var seedTables = []string{
	"flags_awarded",
	"mcp_endpoints",
	"rag_chunks",
	"rag_documents",
	"refunds",
	"payments",
	"order_items",
	"orders",
	"cart_items",
	"carts",
	"addresses",
	"variants",
	"products",
	"users",
}

// Seed loads the embedded demo data set.
func (s *SQLiteStore) Seed(ctx context.Context, reset bool) (SeedResult, error) {
	if !reset {
		n, err := s.CountUsers(ctx)
		if err != nil {
			return SeedResult{}, err
		}
		if n > 0 {
			return SeedResult{}, nil
		}
	}

	data, err := loadSeedData()
	if err != nil {
		return SeedResult{}, err
	}

	// Hash outside the transaction; bcrypt is slow and the write lock is not.
	hashes := make([]string, len(data.Users))
	for i, u := range data.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return SeedResult{}, fmt.Errorf("hash password for %s: %w", u.Username, err)
		}
		hashes[i] = string(hash)
	}

	var result SeedResult
	err = shared.RetryOnConflict(ctx, "seed database", func() error {
		result = SeedResult{Seeded: true}
		return s.withTx(ctx, func(tx *sql.Tx) error {
			if reset {
				for _, table := range seedTables {
					if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
						return fmt.Errorf("reset %s: %w", table, err)
					}
				}
			}
			now := time.Now().Unix()

			products, err := seedProducts(ctx, tx, data, now)
			if err != nil {
				return err
			}
			result.Products = products

			adminID, cards, err := seedUsers(ctx, tx, data, hashes, now)
			if err != nil {
				return err
			}
			result.Users = len(data.Users)

			if result.Orders, err = seedOrders(ctx, tx, cards, now); err != nil {
				return err
			}
			if result.Documents, err = seedDocuments(ctx, tx, data, adminID, now); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return SeedResult{}, err
	}

	slog.Info("database seeded",
		"reset", reset,
		"users", result.Users,
		"products", result.Products,
		"orders", result.Orders,
		"documents", result.Documents)
	return result, nil
}

func seedProducts(ctx context.Context, tx *sql.Tx, data *seedData, now int64) (int, error) {
	count := 0
	for _, cat := range data.Categories {
		for _, p := range cat.Products {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO products (name, description, category, price_cents, sku, stock, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				p.Name, p.Description, cat.Name, p.PriceCents, p.SKU, p.Stock, now)
			if err != nil {
				return 0, fmt.Errorf("insert product %s: %w", p.SKU, err)
			}
			productID, err := res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("product id: %w", err)
			}
			for _, v := range p.Variants {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO variants (product_id, name, price_delta_cents, sku_variant, stock)
					VALUES (?, ?, ?, ?, ?)`,
					productID, v.Name, v.PriceDeltaCents, v.SKU, v.Stock); err != nil {
					return 0, fmt.Errorf("insert variant %s: %w", v.SKU, err)
				}
			}
			count++
		}
	}
	return count, nil
}

type seedCustomer struct {
	userID    int64
	cardLast4 string
}

func seedUsers(ctx context.Context, tx *sql.Tx, data *seedData, hashes []string, now int64) (*int64, []seedCustomer, error) {
	var adminID *int64
	var customers []seedCustomer
	for i, u := range data.Users {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (role, full_name, username, email, password_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			u.Role, u.FullName, u.Username, u.Email, hashes[i], now)
		if err != nil {
			return nil, nil, fmt.Errorf("insert user %s: %w", u.Username, err)
		}
		userID, err := res.LastInsertId()
		if err != nil {
			return nil, nil, fmt.Errorf("user id: %w", err)
		}
		a := u.Address
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO addresses (user_id, line1, line2, city, state, postal_code, country)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userID, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country); err != nil {
			return nil, nil, fmt.Errorf("insert address for %s: %w", u.Username, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO carts (user_id) VALUES (?)`, userID); err != nil {
			return nil, nil, fmt.Errorf("insert cart for %s: %w", u.Username, err)
		}

		switch u.Role {
		case domain.RoleAdmin:
			if adminID == nil {
				id := userID
				adminID = &id
			}
		default:
			card := u.CardLast4
			if card == "" {
				card = "1337"
			}
			customers = append(customers, seedCustomer{userID: userID, cardLast4: card})
		}
	}
	return adminID, customers, nil
}

// seedOrders gives the n-th customer a completed order for catalog rows
// [n*4, n*4+4) of the product/variant listing.
func seedOrders(ctx context.Context, tx *sql.Tx, customers []seedCustomer, now int64) (int, error) {
	type catalogRow struct {
		productID int64
		variantID sql.NullInt64
		unitCents int64
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT p.id, v.id, p.price_cents + COALESCE(v.price_delta_cents, 0)
		FROM products p LEFT JOIN variants v ON v.product_id = p.id
		ORDER BY p.id, v.id`)
	if err != nil {
		return 0, fmt.Errorf("query catalog rows: %w", err)
	}
	var catalog []catalogRow
	for rows.Next() {
		var r catalogRow
		if err := rows.Scan(&r.productID, &r.variantID, &r.unitCents); err != nil {
			closeRows(rows, "catalog")
			return 0, fmt.Errorf("scan catalog row: %w", err)
		}
		catalog = append(catalog, r)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows, "catalog")
		return 0, fmt.Errorf("iterate catalog rows: %w", err)
	}
	closeRows(rows, "catalog")

	orders := 0
	for idx, c := range customers {
		start := idx * sampleOrderLines
		if start >= len(catalog) {
			break
		}
		lines := catalog[start:min(len(catalog), start+sampleOrderLines)]
		var total int64
		for _, l := range lines {
			total += l.unitCents
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (user_id, status, total_cents, created_at) VALUES (?, ?, ?, ?)`,
			c.userID, domain.OrderCompleted, total, now)
		if err != nil {
			return 0, fmt.Errorf("insert sample order: %w", err)
		}
		orderID, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("order id: %w", err)
		}
		for _, l := range lines {
			var variantID any
			if l.variantID.Valid {
				variantID = l.variantID.Int64
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, product_id, variant_id, qty, price_cents_snapshot)
				VALUES (?, ?, ?, 1, ?)`,
				orderID, l.productID, variantID, l.unitCents); err != nil {
				return 0, fmt.Errorf("insert sample order item: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (order_id, status, card_last4, txn_ref, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			orderID, domain.PaymentCaptured, c.cardLast4, fmt.Sprintf("TXN-%d", orderID), now); err != nil {
			return 0, fmt.Errorf("insert sample payment: %w", err)
		}
		orders++
	}
	return orders, nil
}

func seedDocuments(ctx context.Context, tx *sql.Tx, data *seedData, adminID *int64, now int64) (int, error) {
	for _, d := range data.Documents {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rag_documents (title, content_text, created_at, admin_uploader_id)
			VALUES (?, ?, ?, ?)`,
			d.Title, d.Content, now, nullInt(adminID))
		if err != nil {
			return 0, fmt.Errorf("insert document %q: %w", d.Title, err)
		}
		docID, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("document id: %w", err)
		}
		if err := insertChunks(ctx, tx, docID, domain.ChunkText(d.Content, domain.ChunkSize, domain.ChunkOverlap)); err != nil {
			return 0, err
		}
	}
	return len(data.Documents), nil
}
