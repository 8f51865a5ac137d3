package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create content_nodes table
			CREATE TABLE content_nodes (
				address TEXT PRIMARY KEY,
				kind VARCHAR(16) NOT NULL CHECK (kind IN ('leaf', 'list', 'error')),
				data BYTEA,
				charset VARCHAR(64),
				location TEXT,
				children JSONB,
				message TEXT,
				trace TEXT,
				causes JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_content_nodes_address_prefix ON content_nodes(address text_pattern_ops);
		`,
	}
}
