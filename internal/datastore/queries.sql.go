package datastore

const (
	existsURL = `
	SELECT EXISTS (SELECT 1 FROM url_mappings WHERE short_code = $1)
	`

	insertURL = `
	INSERT INTO url_mappings (short_code, original_url)
	VALUES (@short_code, @original_url)
	ON CONFLICT (short_code) DO NOTHING
	RETURNING short_code, original_url, created_at
	`

	getURL = `
	SELECT original_url FROM url_mappings
	WHERE short_code = $1
	`

	insertVisit = `
	INSERT INTO analytics (short_code, visited_at, ip_address)
	VALUES (@short_code, @visited_at, @ip_address)
	`

	listVisits = `
	SELECT id, short_code, visited_at, ip_address FROM analytics
	WHERE short_code = $1
	ORDER BY id
	`
)
