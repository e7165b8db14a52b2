package kernel

import "sync"

// transactionPool recycles KernelTransaction instances. Close returns the
// instance here; BeginTransaction takes one out and re-initializes it.
type transactionPool struct {
	kernel *Kernel

	mu   sync.Mutex
	free []*KernelTransaction
}

func newTransactionPool(k *Kernel) *transactionPool {
	return &transactionPool{kernel: k}
}

func (p *transactionPool) Acquire() *KernelTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		tx := p.free[n-1]
		p.free = p.free[:n-1]

		return tx
	}

	return newKernelTransaction(p.kernel)
}

func (p *transactionPool) Release(tx *KernelTransaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = append(p.free, tx)
}
