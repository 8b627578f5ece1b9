package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/zapvia/campaign-gateway/internal/config"
	"github.com/zapvia/campaign-gateway/internal/db"
	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/schedule"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo users, instances, contacts, and a campaign",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo data...")

		if err := seedUsers(sqlDB); err != nil {
			return err
		}
		if err := seedInstances(sqlDB); err != nil {
			return err
		}
		if err := seedContacts(sqlDB); err != nil {
			return err
		}
		if err := seedCampaign(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedUsers inserts deterministic demo accounts (idempotent on api_key).
func seedUsers(dbx *sqlx.DB) error {
	users := []model.User{
		{ID: 1, Name: "Padaria Central", APIKey: "11111111111111111111111111111111", Status: "active"},
		{ID: 2, Name: "Studio Fit", APIKey: "22222222222222222222222222222222", Status: "active"},
		{ID: 3, Name: "Suspended Shop", APIKey: "33333333333333333333333333333333", Status: "suspended"},
	}

	const q = `
INSERT INTO users (id, name, api_key, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    updated_at = VALUES(updated_at)
`
	now := time.Now()
	for _, u := range users {
		if _, err := dbx.Exec(q, u.ID, u.Name, u.APIKey, u.Status, now, now); err != nil {
			return fmt.Errorf("insert user %q: %w", u.Name, err)
		}
	}
	return nil
}

func seedInstances(dbx *sqlx.DB) error {
	instances := []model.Instance{
		{ID: "inst-padaria", UserID: 1, Token: "tok-padaria-0001", Status: "connected"},
		{ID: "inst-studio", UserID: 2, Token: "tok-studio-0002", Status: "connected"},
	}

	const q = `
INSERT INTO instances (id, user_id, token, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    token      = VALUES(token),
    status     = VALUES(status),
    updated_at = VALUES(updated_at)
`
	now := time.Now()
	for _, in := range instances {
		if _, err := dbx.Exec(q, in.ID, in.UserID, in.Token, in.Status, now, now); err != nil {
			return fmt.Errorf("insert instance %q: %w", in.ID, err)
		}
	}
	return nil
}

func seedContacts(dbx *sqlx.DB) error {
	contacts := []model.Contact{
		{UserID: 1, Name: "Ana", Phone: "+5511987650001"},
		{UserID: 1, Name: "Bruno", Phone: "+5511987650002"},
		{UserID: 1, Name: "Carla", Phone: "+5511987650003"},
		{UserID: 2, Name: "Diego", Phone: "+5521987650004"},
		{UserID: 2, Name: "Elisa", Phone: "+5521987650005"},
	}

	const q = `
INSERT INTO contacts (user_id, name, phone, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    updated_at = VALUES(updated_at)
`
	now := time.Now()
	for _, c := range contacts {
		if _, err := dbx.Exec(q, c.UserID, c.Name, c.Phone, now, now); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.Phone, err)
		}
	}

	// one blacklisted number so skip accounting shows up in demos
	const bq = `
INSERT INTO blacklist (user_id, phone, created_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE phone = VALUES(phone)
`
	if _, err := dbx.Exec(bq, 1, "+5511987650003", now); err != nil {
		return fmt.Errorf("insert blacklist entry: %w", err)
	}
	return nil
}

// seedCampaign creates one running scheduled campaign for the bakery and
// attaches its recipients.
func seedCampaign(dbx *sqlx.DB) error {
	sched := &schedule.Schedule{
		StartTime: "09:00",
		EndTime:   "18:00",
		Weekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
	}

	const q = `
INSERT INTO campaigns
    (id, user_id, instance_id, name, template, status, schedule, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    template   = VALUES(template),
    schedule   = VALUES(schedule),
    updated_at = VALUES(updated_at)
`
	now := time.Now()
	campaignID := "demo-promo-paes"
	_, err := dbx.Exec(q,
		campaignID, 1, "inst-padaria",
		"Promo paes da manha",
		"Oi {{name}}! Pao quentinho saindo agora, passa aqui ate as 10h.",
		model.CampaignRunning, sched, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	const rq = `
INSERT IGNORE INTO campaign_recipients (campaign_id, contact_id)
SELECT ?, id FROM contacts WHERE user_id = 1
`
	if _, err := dbx.Exec(rq, campaignID); err != nil {
		return fmt.Errorf("attach recipients: %w", err)
	}
	return nil
}
