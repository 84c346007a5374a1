/*
Package routing declares which topics a process consumes and which handler receives each topic's
messages. A Builder is handed to a drawing function once at startup and yields an immutable Table.

	table, err := routing.Draw(func(r *routing.Builder) {
		r.Topic("hello", routing.To(":welcome"), routing.Channel("test"))
		r.Topic("hello", routing.To("audit"))
	})
*/
package routing
