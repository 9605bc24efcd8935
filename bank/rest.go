package bank

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Router returns the RESTful API of the bank. The routes only exist once the chaincode has been deployed, before
// that ErrNotDeployed is returned.
func (b *Bank) Router() (*mux.Router, error) {
	if b.State() != Deployed {
		return nil, ErrNotDeployed
	}

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", b.homeHandler)
	r.HandleFunc("/checkbalance", b.checkBalanceHandler).Methods(http.MethodPost)   // query account balance
	r.HandleFunc("/openaccount", b.openAccountHandler).Methods(http.MethodPost)     // open a new account
	r.HandleFunc("/transferfunds", b.transferFundsHandler).Methods(http.MethodPost) // transfer between accounts
	r.HandleFunc("/deployment", b.deploymentHandler).Methods(http.MethodGet)        // deployed chaincode
	r.HandleFunc("/txs", b.txsHandler).Methods(http.MethodGet)                      // journaled transactions

	if b.conf.Static != "" {
		r.PathPrefix("/public/").Handler(http.StripPrefix("/public/", http.FileServer(http.Dir(b.conf.Static))))
	}

	return r, nil
}

// Init sets up and starts the http/https server to service the RESTful API for a bank service. If sslPort, ssCert
// and sslKey are informed, it will start an https (TLS) server on the specified endpoint. Init returns when the
// service is stopped or a server cannot listen.
func (b *Bank) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	r, err := b.Router()
	if err != nil {
		return fmt.Sprintf("cannot serve API: %v", err)
	}

	// a chaincode call may last up to the transaction timeout
	wt := b.timeout + timeout*time.Second
	errc := make(chan error, 2)

	b.mu.Lock()
	// already stopping
	select {
	case <-b.quit:
		b.mu.Unlock()
		<-b.sc

		return "shutdown http servers"
	default:
	}
	// start http server
	if port != "" {
		b.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: wt,
			ReadTimeout:  timeout * time.Second,
		}

		go func(s *http.Server) {
			errc <- s.ListenAndServe()
		}(b.s)

		logger.Infof("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		b.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: wt,
			ReadTimeout:  timeout * time.Second,
		}

		go func(s *http.Server) {
			errc <- s.ListenAndServeTLS(sslCert, sslKey)
		}(b.ss)

		logger.Infof("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	b.mu.Unlock()

	// wait for servers to be shutdown
	for {
		select {
		case <-b.sc:
			return "shutdown http servers"
		case err = <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Sprintf("http server error: %v", err)
			}
		}
	}
}
