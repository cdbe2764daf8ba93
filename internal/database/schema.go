package database

import (
	"database/sql"
	"fmt"
)

// chatSchema contains the tables owned by the chat core. The users table is
// authored by the user directory service; it is created here only so a
// standalone deployment can run without it.
const chatSchema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    username VARCHAR(25) UNIQUE NOT NULL,
    display_name VARCHAR(50) NOT NULL,
    avatar_url VARCHAR(1024),
    push_player_id VARCHAR(50),
    moderation_opt_in BOOLEAN DEFAULT FALSE,
    is_suspended BOOLEAN DEFAULT FALSE,
    suspended_until TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    is_group BOOLEAN DEFAULT FALSE,
    name VARCHAR(100),
    created_by UUID REFERENCES users(id),
    last_message_text TEXT,
    last_message_time TIMESTAMPTZ DEFAULT NOW(),
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversation_participants (
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    is_hidden BOOLEAN DEFAULT FALSE,
    is_admin BOOLEAN DEFAULT FALSE,
    unread_count INT DEFAULT 0,
    joined_at TIMESTAMPTZ DEFAULT NOW(),
    last_cleared_at TIMESTAMPTZ,
    PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    sender_id UUID REFERENCES users(id) ON DELETE CASCADE,
    text TEXT,
    type VARCHAR(20) DEFAULT 'text',
    attachment_url VARCHAR(1024),
    is_delivered BOOLEAN DEFAULT FALSE,
    is_read_by_all BOOLEAN DEFAULT FALSE,
    is_deleted BOOLEAN DEFAULT FALSE,
    reply_to_id UUID REFERENCES messages(id),
    sent_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
    ON messages (conversation_id, sent_at);

CREATE TABLE IF NOT EXISTS blocked_users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    blocker_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    blocked_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (blocker_id, blocked_id)
);

CREATE TABLE IF NOT EXISTS toxic_counters (
    sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    receiver_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    day DATE NOT NULL,
    count INT NOT NULL DEFAULT 0,
    PRIMARY KEY (sender_id, receiver_id, day)
);
`

// EnsureSchema creates the chat tables if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(chatSchema); err != nil {
		return fmt.Errorf("failed to ensure chat schema: %w", err)
	}
	return nil
}
