package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// BayesAdapter adapts a Router + data-source hint into internal/spam.Store,
// so the Bayes token/class tables live in the same storage layer as
// everything else while the spam package stays storage-agnostic.
type BayesAdapter struct {
	router     *Router
	dataSource string
}

func NewBayesAdapter(router *Router, dataSource string) *BayesAdapter {
	return &BayesAdapter{router: router, dataSource: dataSource}
}

// IncrementTokens applies delta occurrences to (token, chatID) for the given
// label, and the corresponding BayesClass counters, all in one transaction —
// the single-transaction-per-message requirement behind invariant P2.
func (a *BayesAdapter) IncrementTokens(ctx context.Context, chatID int64, isSpam bool, counts map[string]int, messageDelta int) error {
	src, err := a.router.resolveForWrite(a.dataSource, chatID)
	if err != nil {
		return err
	}
	tx, err := src.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: increment tokens: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var tokenTotal int64
	for token, delta := range counts {
		if delta == 0 {
			continue
		}
		tokenTotal += int64(delta)
		if err := upsertBayesToken(ctx, tx, src, token, chatID, isSpam, int64(delta)); err != nil {
			return fmt.Errorf("storage: increment tokens: token %q: %w", token, err)
		}
	}

	if err := upsertBayesClass(ctx, tx, src, chatID, isSpam, int64(messageDelta), tokenTotal); err != nil {
		return fmt.Errorf("storage: increment tokens: class: %w", err)
	}

	return tx.Commit()
}

// upsertBayesToken clamps at zero on the way down — the floor-of-zero rule
// from spec §4.4's Unlearning note.
func upsertBayesToken(ctx context.Context, tx *sql.Tx, src *Source, token string, chatID int64, isSpam bool, delta int64) error {
	column := "ham_count"
	initial := int64(0)
	if isSpam {
		column = "spam_count"
	}
	if delta > 0 {
		initial = delta
	}
	query := src.Rebind(fmt.Sprintf(`
		INSERT INTO bayes_tokens (token, chat_id, spam_count, ham_count)
		VALUES (?, ?, %s, %s)
		ON CONFLICT (token, chat_id) DO UPDATE SET %s = MAX(0, bayes_tokens.%s + ?)`,
		spamInitial(isSpam, initial), hamInitial(isSpam, initial), column, column))
	_, err := tx.ExecContext(ctx, query, token, chatID, delta)
	return err
}

func spamInitial(isSpam bool, initial int64) string {
	if isSpam {
		return fmt.Sprintf("%d", initial)
	}
	return "0"
}

func hamInitial(isSpam bool, initial int64) string {
	if !isSpam {
		return fmt.Sprintf("%d", initial)
	}
	return "0"
}

func upsertBayesClass(ctx context.Context, tx *sql.Tx, src *Source, chatID int64, isSpam bool, messageDelta, tokenDelta int64) error {
	query := src.Rebind(`
		INSERT INTO bayes_classes (chat_id, is_spam, message_count, token_count)
		VALUES (?, ?, MAX(0, ?), MAX(0, ?))
		ON CONFLICT (chat_id, is_spam) DO UPDATE SET
			message_count = MAX(0, bayes_classes.message_count + ?),
			token_count = MAX(0, bayes_classes.token_count + ?)`)
	_, err := tx.ExecContext(ctx, query, chatID, isSpam, messageDelta, tokenDelta, messageDelta, tokenDelta)
	return err
}

// TokenCounts returns (spam_count, ham_count) for each requested token.
func (a *BayesAdapter) TokenCounts(ctx context.Context, chatID int64, tokens []string) (map[string][2]int64, error) {
	src, err := a.router.resolve(a.dataSource, chatID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][2]int64, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(tokens)+1)
	args = append(args, chatID)
	for i, t := range tokens {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, t)
	}
	query := src.Rebind(fmt.Sprintf(`SELECT token, spam_count, ham_count FROM bayes_tokens WHERE chat_id = ? AND token IN (%s)`, placeholders))
	rows, err := src.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: token counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var token string
		var spamCount, hamCount int64
		if err := rows.Scan(&token, &spamCount, &hamCount); err != nil {
			return nil, err
		}
		out[token] = [2]int64{spamCount, hamCount}
	}
	return out, rows.Err()
}

// ClassTotals returns (spam_messages, ham_messages, spam_tokens, ham_tokens) for chatID.
func (a *BayesAdapter) ClassTotals(ctx context.Context, chatID int64) (spamMsgs, hamMsgs, spamTokens, hamTokens int64, err error) {
	src, err := a.router.resolve(a.dataSource, chatID)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	query := src.Rebind(`SELECT is_spam, message_count, token_count FROM bayes_classes WHERE chat_id = ?`)
	rows, err := src.DB.QueryContext(ctx, query, chatID)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("storage: class totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var isSpam bool
		var msgs, toks int64
		if err := rows.Scan(&isSpam, &msgs, &toks); err != nil {
			return 0, 0, 0, 0, err
		}
		if isSpam {
			spamMsgs, spamTokens = msgs, toks
		} else {
			hamMsgs, hamTokens = msgs, toks
		}
	}
	return spamMsgs, hamMsgs, spamTokens, hamTokens, rows.Err()
}

// VocabularySize returns the distinct token count for chatID.
func (a *BayesAdapter) VocabularySize(ctx context.Context, chatID int64) (int64, error) {
	src, err := a.router.resolve(a.dataSource, chatID)
	if err != nil {
		return 0, err
	}
	query := src.Rebind(`SELECT COUNT(*) FROM bayes_tokens WHERE chat_id = ?`)
	var n int64
	err = src.DB.QueryRowContext(ctx, query, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: vocabulary size: %w", err)
	}
	return n, nil
}
