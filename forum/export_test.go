package forum

import "context"

// Truncate empties every table and resets id sequences.
func (d *Database) Truncate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `TRUNCATE read_marks, read_states, moderators, posts, topics, forums, categories, users RESTART IDENTITY CASCADE`)
	return err
}
