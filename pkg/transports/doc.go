// Package transports moves pipeline resources between the engine and
// storage.
//
// Every transport implements engine.Transport. A Mux routes each location
// to the transport registered for its scheme:
//
//	file:///data/target.pdb  -> fs
//	http(s)://host/target    -> httpx
//	sftp://host/data/target  -> sftp
//	mem://target             -> Memory
//
// Locations without a scheme are joined to the Mux base, so seed paths such
// as "ligandokreado/1iep/target.pdb" resolve inside a configured bucket or
// directory. DryRun replaces real I/O with mock content for dry runs, and
// Instrument reports every call to an Observer for metrics.
package transports
