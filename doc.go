// Package sshchain orchestrates chained SSH tunnels: an ordered list of
// named hops where hop 0 is dialed directly and every later hop is dialed
// through the previous one, so that commands can run and files can move on
// hosts only reachable from inside the chain.
//
// Typical use:
//
//	chain, err := sshchain.New(
//		sshchain.WithHop("jump=bob@bastion.example.com"),
//		sshchain.WithHop("app=alice@inside.example.com"),
//		sshchain.WithKeyFile("/home/me/.ssh/id_ed25519"),
//	)
//	...
//	err = chain.Connect()
//	...
//	out, err := chain.Exec("app", "uptime", false)
//
// Auxiliary endpoints reachable only from a hop can be attached as named
// remotes, a namespace separate from the positional chain:
//
//	err = chain.AddRemote("db", sshchain.Hop{Host: "10.0.0.5", Username: "postgres"})
//	out, err = chain.ExecOnRemote("db", "pg_isready", false)
//
// File transfer goes through the per-endpoint Storage capability, built
// lazily over SFTP and cached until that endpoint's session goes away:
//
//	st, err := chain.Storage("app")
//	err = st.Upload("./build.tar.gz", "/tmp/build.tar.gz")
//
// When a session is lost mid-flight the chain truncates itself at the lost
// hop and reconnects automatically, re-resolving credentials and re-running
// the hop-connected hook for every hop from the break onward. Recovery is
// fire and forget; operations in flight across the break fail and are not
// retried.
package sshchain
