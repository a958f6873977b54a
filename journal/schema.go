package journal

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	time DATETIME NOT NULL,
	event TEXT NOT NULL,
	leg TEXT NOT NULL,
	symbol TEXT NOT NULL,
	contracts INTEGER NOT NULL,
	limit_price REAL NOT NULL,
	stop_price REAL NOT NULL,
	order_id TEXT NOT NULL,
	prev_order_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders(order_id);
CREATE INDEX IF NOT EXISTS idx_orders_time ON orders(time);
`
