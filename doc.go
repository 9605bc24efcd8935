// Package fabbank and its sub-packages implement a bank web service backed by a chaincode deployed on a Hyperledger
// Fabric network.
/*
fabbank provides you with two microservices:

1) a bank microservice (package bank) that implements a RESTful API to check account balances, open accounts and
 transfer funds. Every request is one query or invoke of the bank chaincode.

2) a journal microservice (package journal) that records the transactions made through the bank.

Bootstrap

At startup the bank enrolls its admin identity with the membership service and deploys the bank chaincode, seeding
the configured accounts. The API is only served once the deploy has completed; a failed enroll or deploy ends the
process.

Architecture

The blockchain layer (package lib/block) hides the network behind an interface so other networks can be added. Calls
return a transaction notifier (lib/block/types.Tx): invokes are first submitted and later complete or fail, queries and
deploys complete or fail directly. Every call is bound by a timeout so no request waits forever.

The bank publishes an event for every finished call to the message broker (package lib/msg). The journal consumes
them and saves them to its database (package lib/store), which can be shared with the bank to serve the /txs route.
Broker and database are optional for the bank.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Bank

The bank microservice can be started running cmd/bank/main.go. Requests to /checkbalance, /openaccount and
/transferfunds are POSTed as forms or JSON objects and replied with an HTML fragment.

Journal

The journal microservice can be started running cmd/journal/main.go. It requires a database and a message broker.

*/
package fabbank
