package bank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tarancss/fabbank/lib/block/types"
	"github.com/tarancss/fabbank/lib/store"
)

// FcnInit is the chaincode function called on deploy.
const FcnInit = "init"

// Errors returned by Bootstrap.
var (
	ErrBootstrapped = errors.New("bootstrap already done")
	ErrNoReference  = errors.New("deploy returned an empty chaincode reference")
)

// BootstrapError is returned when the bootstrap sequence fails. Stage is the state the service was left in:
// Unenrolled when enrollment failed, Enrolled when deploy failed.
type BootstrapError struct {
	Stage State
	Err   error
}

func (e *BootstrapError) Error() string {
	if e.Stage == Unenrolled {
		return fmt.Sprintf("failed to enroll admin: %v", e.Err)
	}

	return fmt.Sprintf("failed to deploy chaincode: %v", e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// Bootstrap enrolls the admin identity and then deploys the chaincode with the configured seed accounts. There are
// no retries: the first failure is returned as a *BootstrapError and the caller decides whether to exit. On success
// the service is Deployed and the router can be built.
func (b *Bank) Bootstrap(ctx context.Context) error {
	b.boot.Lock()
	defer b.boot.Unlock()

	if b.State() != Unenrolled {
		return ErrBootstrapped
	}

	// enroll the admin, it must be already registered in the membership service
	id, err := b.bc.Enroll(ctx, b.conf.Admin, b.conf.AdminSecret)
	if err != nil {
		return &BootstrapError{Stage: Unenrolled, Err: err}
	}

	b.mu.Lock()
	b.id, b.state = id, Enrolled
	b.mu.Unlock()
	b.m.SetBootstrapState(int(Enrolled))

	logger.Infof("Enrolled admin %s successfully", id.Name)

	if b.db != nil {
		if d, err := b.db.LoadDeployment(b.conf.Chaincode); err == nil {
			logger.Infof("Redeploying chaincode %s, previous reference %s", d.Name, d.Reference)
		} else if !errors.Is(err, store.ErrDataNotFound) {
			logger.Warningf("Error loading deployment %s from DB: %v", b.conf.Chaincode, err)
		}
	}

	// deploy the chaincode
	req := types.DeployRequest{
		Name:     b.conf.Chaincode,
		Path:     b.conf.ChaincodePath,
		Function: FcnInit,
		Args:     b.conf.InitArgs,
	}

	dctx, cancel := context.WithTimeout(ctx, time.Duration(b.conf.DeployTimeout)*time.Second)
	defer cancel()

	ref, err := b.bc.Deploy(dctx, id, req).Wait(dctx)
	if err == nil && len(ref) == 0 {
		err = ErrNoReference
	}

	if err != nil {
		logger.Errorf("Failed to deploy chaincode: request=%+v, error=%v", req, err)

		return &BootstrapError{Stage: Enrolled, Err: err}
	}

	b.mu.Lock()
	b.ref, b.state = string(ref), Deployed
	b.mu.Unlock()
	b.m.SetBootstrapState(int(Deployed))

	logger.Infof("Successfully deployed chaincode: request=%+v, reference=%s", req, ref)

	// keep the reference, a failure here does not stop the service
	if b.db != nil {
		d := store.Deployment{
			Name:      req.Name,
			Reference: string(ref),
			Function:  req.Function,
			Args:      req.Args,
			Admin:     id.Name,
			TS:        time.Now().Unix(),
		}
		if err := b.db.SaveDeployment(d); err != nil {
			logger.Warningf("Error saving deployment %+v to DB: %v", d, err)
		}
	}

	return nil
}
