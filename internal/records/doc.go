// Package records stores JSON documents through a gate.
//
// Every operation is a single unit of work classified as a read or a write:
//
//   - Write: Add, AddOrUpdate, Delete, Put, Remove
//   - Read: FetchOne, Fetch, Count, CountKind, Get
//
// Documents are identified by (kind, id), taken from the Model interface, and
// stored as the JSON encoding of the value. Types that SQLite cannot hold
// natively, such as *big.Int, are stored in whatever form their JSON
// marshaller produces.
//
// Open a gate with Schema() to get the records table:
//
//	schema, err := records.Schema()
//	g, err := gate.Open(ctx, storage.OnDisk(""), schema, "wallet", gate.Options{})
//	_, err = records.Add(ctx, g, Wallet{ID: "a", Name: "wallet 1"}).Wait(ctx)
//	w, err := records.FetchOne[Wallet](ctx, g, "a").Wait(ctx)
//
// When the kind is only known at runtime, Put, Get and Remove work on
// Documents holding raw JSON bodies.
package records
